//go:build integration

package dynamodb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/verdict/internal/provider/providertest"
	"github.com/dwsmith1983/verdict/pkg/types"
)

func setupTestProvider(t *testing.T) *DynamoDBProvider {
	t.Helper()
	ctx := context.Background()
	tableName := fmt.Sprintf("verdict-test-%d", time.Now().UnixNano())
	cfg := &types.DynamoDBConfig{
		TableName:   tableName,
		Region:      "us-east-1",
		Endpoint:    "http://localhost:8000",
		CreateTable: true,
	}
	prov, err := New(cfg)
	if err != nil {
		t.Skipf("DynamoDB Local not available: %v", err)
	}
	if err := prov.Start(ctx); err != nil {
		t.Skipf("DynamoDB Local not available: %v", err)
	}
	t.Cleanup(func() {
		_, _ = prov.client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{
			TableName: &tableName,
		})
	})
	return prov
}

func TestConformance(t *testing.T) {
	prov := setupTestProvider(t)
	providertest.RunAll(t, prov)
}

func TestDeleteRun_LargeTree(t *testing.T) {
	prov := setupTestProvider(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	root := types.Run{ID: "big-root", Status: types.RunCompleted, RunType: types.RunInitial, Version: 1, CreatedAt: base, UpdatedAt: base}
	require.NoError(t, prov.PutRun(ctx, root))
	for i := range 40 {
		require.NoError(t, prov.AppendEvent(ctx, types.Event{Kind: types.EventReviewAttached, RunID: root.ID, Timestamp: base.Add(time.Duration(i) * time.Millisecond)}))
	}

	require.NoError(t, prov.DeleteRun(ctx, root.ID))

	events, err := prov.ListEvents(ctx, root.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
