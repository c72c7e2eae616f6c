package memory

import (
	"testing"

	"github.com/dwsmith1983/verdict/internal/provider/providertest"
)

func TestConformance(t *testing.T) {
	providertest.RunAll(t, New())
}
