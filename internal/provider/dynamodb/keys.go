package dynamodb

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute and index names.
const (
	attrPK     = "PK"
	attrSK     = "SK"
	attrGSI1PK = "GSI1PK"
	attrGSI1SK = "GSI1SK"
	indexGSI1  = "GSI1"
)

// PK/SK prefix constants.
const (
	prefixRun    = "RUN#"
	prefixReview = "REVIEW#"
	prefixEvent  = "EVENT#"
	prefixChild  = "CHILD#"

	skMeta     = "META"
	skProposal = "PROPOSAL"
	skDecision = "DECISION"

	gsiAllRuns = "RUNS"
)

// sortableTime is fixed width so lexical order matches time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// record is the on-table shape of every item.
type record struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	GSI1PK  string `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK  string `dynamodbav:"GSI1SK,omitempty"`
	Status  string `dynamodbav:"status,omitempty"`
	Version int    `dynamodbav:"version,omitempty"`
	ChildID string `dynamodbav:"childId,omitempty"`
	Data    string `dynamodbav:"data,omitempty"`
}

func runPK(runID string) string        { return prefixRun + runID }
func reviewSK(personaID string) string { return prefixReview + personaID }

func sortKeyTime(t time.Time) string { return t.UTC().Format(sortableTime) }

func runListSK(createdAt time.Time, runID string) string {
	return sortKeyTime(createdAt) + "#" + runID
}

func childSK(createdAt time.Time, runID string) string {
	return prefixChild + runListSK(createdAt, runID)
}

func eventSK(ts time.Time) string {
	millis := ts.UnixMilli()
	nonce := make([]byte, 4)
	_, _ = rand.Read(nonce)
	return fmt.Sprintf("%s%013d#%s", prefixEvent, millis, hex.EncodeToString(nonce))
}

func itemKey(pk, sk string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		attrPK: &ddbtypes.AttributeValueMemberS{Value: pk},
		attrSK: &ddbtypes.AttributeValueMemberS{Value: sk},
	}
}

func metaKey(runID string) map[string]ddbtypes.AttributeValue {
	return itemKey(runPK(runID), skMeta)
}

// dataRecord builds a record whose data attribute is v encoded as JSON.
func dataRecord(pk, sk string, v any) (record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return record{}, fmt.Errorf("marshaling %s/%s: %w", pk, sk, err)
	}
	return record{PK: pk, SK: sk, Data: string(data)}, nil
}

func marshalRecord(r record) (map[string]ddbtypes.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling item %s/%s: %w", r.PK, r.SK, err)
	}
	return item, nil
}

// decodeData unmarshals an item's data attribute into v.
func decodeData(item map[string]ddbtypes.AttributeValue, v any) error {
	var r record
	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return fmt.Errorf("unmarshaling item: %w", err)
	}
	if r.Data == "" {
		return fmt.Errorf("item %s/%s has no data", r.PK, r.SK)
	}
	if err := json.Unmarshal([]byte(r.Data), v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", r.PK, r.SK, err)
	}
	return nil
}

func unmarshalRecords(items []map[string]ddbtypes.AttributeValue) ([]record, error) {
	var recs []record
	if err := attributevalue.UnmarshalListOfMaps(items, &recs); err != nil {
		return nil, fmt.Errorf("unmarshaling items: %w", err)
	}
	return recs, nil
}
