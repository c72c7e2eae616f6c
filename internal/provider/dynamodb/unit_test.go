package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// mockDDB is a minimal mock of the DDBAPI interface for unit testing.
type mockDDB struct {
	putItemFn           func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	getItemFn           func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	queryFn             func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	transactWriteItemFn func(ctx context.Context, input *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	batchWriteItemFn    func(ctx context.Context, input *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	describeTableFn     func(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	createTableFn       func(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	deleteTableFn       func(ctx context.Context, input *dynamodb.DeleteTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

func (m *mockDDB) PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFn != nil {
		return m.putItemFn(ctx, input, opts...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDB) GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFn != nil {
		return m.getItemFn(ctx, input, opts...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDDB) Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, input, opts...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDDB) TransactWriteItems(ctx context.Context, input *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if m.transactWriteItemFn != nil {
		return m.transactWriteItemFn(ctx, input, opts...)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (m *mockDDB) BatchWriteItem(ctx context.Context, input *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if m.batchWriteItemFn != nil {
		return m.batchWriteItemFn(ctx, input, opts...)
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (m *mockDDB) DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if m.describeTableFn != nil {
		return m.describeTableFn(ctx, input, opts...)
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func (m *mockDDB) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if m.createTableFn != nil {
		return m.createTableFn(ctx, input, opts...)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockDDB) DeleteTable(ctx context.Context, input *dynamodb.DeleteTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	if m.deleteTableFn != nil {
		return m.deleteTableFn(ctx, input, opts...)
	}
	return &dynamodb.DeleteTableOutput{}, nil
}

func newTestProvider(mock *mockDDB) *DynamoDBProvider {
	return NewFromClient(mock, "test-table", WithLogger(slog.Default()))
}

var testTime = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func testRun(id string, parent *string) types.Run {
	run := types.Run{
		ID:        id,
		Status:    types.RunRunning,
		RunType:   types.RunInitial,
		InputIdea: "a shared grocery list app",
		Version:   1,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
	if parent != nil {
		run.ParentRunID = parent
		run.RunType = types.RunRevision
	}
	return run
}

func runItem(t *testing.T, run types.Run) map[string]ddbtypes.AttributeValue {
	t.Helper()
	rec, err := runRecord(run)
	if err != nil {
		t.Fatalf("runRecord: %v", err)
	}
	item, err := marshalRecord(rec)
	if err != nil {
		t.Fatalf("marshalRecord: %v", err)
	}
	return item
}

func strAttr(item map[string]ddbtypes.AttributeValue, key string) string {
	s, ok := item[key].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return s.Value
}

func cancelled(codes ...string) error {
	reasons := make([]ddbtypes.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = ddbtypes.CancellationReason{Code: strPtr(c)}
	}
	return &ddbtypes.TransactionCanceledException{
		Message:             strPtr("Transaction cancelled"),
		CancellationReasons: reasons,
	}
}

// ---------------------------------------------------------------------------
// Run write tests
// ---------------------------------------------------------------------------

func TestPutRun_InitialRunSingleItem(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	mock := &mockDDB{
		transactWriteItemFn: func(_ context.Context, input *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = input
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	if err := p.PutRun(context.Background(), testRun("run-1", nil)); err != nil {
		t.Fatalf("PutRun: %v", err)
	}
	if len(captured.TransactItems) != 1 {
		t.Fatalf("transact items = %d, want 1", len(captured.TransactItems))
	}

	put := captured.TransactItems[0].Put
	if *put.ConditionExpression != "attribute_not_exists(PK)" {
		t.Errorf("condition = %q", *put.ConditionExpression)
	}
	if got := strAttr(put.Item, "PK"); got != "RUN#run-1" {
		t.Errorf("PK = %q, want %q", got, "RUN#run-1")
	}
	if got := strAttr(put.Item, "SK"); got != "META" {
		t.Errorf("SK = %q, want %q", got, "META")
	}
	if got := strAttr(put.Item, "GSI1PK"); got != "RUNS" {
		t.Errorf("GSI1PK = %q, want %q", got, "RUNS")
	}
	if got := strAttr(put.Item, "GSI1SK"); got != "2025-01-15T10:30:00.000000000Z#run-1" {
		t.Errorf("GSI1SK = %q", got)
	}
	if got := strAttr(put.Item, "status"); got != "RUNNING" {
		t.Errorf("status = %q, want RUNNING", got)
	}

	var roundTrip types.Run
	if err := json.Unmarshal([]byte(strAttr(put.Item, "data")), &roundTrip); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if roundTrip.InputIdea != "a shared grocery list app" {
		t.Errorf("input idea = %q", roundTrip.InputIdea)
	}
}

func TestPutRun_RevisionChecksParent(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	mock := &mockDDB{
		transactWriteItemFn: func(_ context.Context, input *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = input
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	parent := "run-1"
	if err := p.PutRun(context.Background(), testRun("run-2", &parent)); err != nil {
		t.Fatalf("PutRun: %v", err)
	}
	if len(captured.TransactItems) != 3 {
		t.Fatalf("transact items = %d, want 3", len(captured.TransactItems))
	}

	check := captured.TransactItems[1].ConditionCheck
	if check == nil {
		t.Fatal("expected a condition check on the parent")
	}
	if got := strAttr(check.Key, "PK"); got != "RUN#run-1" {
		t.Errorf("check PK = %q, want %q", got, "RUN#run-1")
	}
	if *check.ConditionExpression != "attribute_exists(PK)" {
		t.Errorf("check condition = %q", *check.ConditionExpression)
	}

	index := captured.TransactItems[2].Put.Item
	if got := strAttr(index, "PK"); got != "RUN#run-1" {
		t.Errorf("index PK = %q, want %q", got, "RUN#run-1")
	}
	if got := strAttr(index, "SK"); got != "CHILD#2025-01-15T10:30:00.000000000Z#run-2" {
		t.Errorf("index SK = %q", got)
	}
	if got := strAttr(index, "childId"); got != "run-2" {
		t.Errorf("childId = %q, want %q", got, "run-2")
	}
	if _, ok := index["GSI1PK"]; ok {
		t.Error("index item must not appear in the run listing")
	}
}

func TestPutRun_MapsCancellation(t *testing.T) {
	parent := "run-1"
	tests := []struct {
		name  string
		codes []string
		want  error
	}{
		{"duplicate run", []string{"ConditionalCheckFailed", "None", "None"}, provider.ErrAlreadyExists},
		{"missing parent", []string{"None", "ConditionalCheckFailed", "None"}, provider.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockDDB{
				transactWriteItemFn: func(_ context.Context, _ *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
					return nil, cancelled(tt.codes...)
				},
			}
			p := newTestProvider(mock)

			err := p.PutRun(context.Background(), testRun("run-2", &parent))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPutRun_OtherError(t *testing.T) {
	mock := &mockDDB{
		transactWriteItemFn: func(_ context.Context, _ *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, fmt.Errorf("network timeout")
		},
	}
	p := newTestProvider(mock)

	err := p.PutRun(context.Background(), testRun("run-1", nil))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, provider.ErrAlreadyExists) || errors.Is(err, provider.ErrNotFound) {
		t.Errorf("transport error mapped to provider error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Run read tests
// ---------------------------------------------------------------------------

func TestGetRun_RoundTrip(t *testing.T) {
	run := testRun("run-1", nil)
	mock := &mockDDB{
		getItemFn: func(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			if !*input.ConsistentRead {
				t.Error("GetRun should read consistently")
			}
			return &dynamodb.GetItemOutput{Item: runItem(t, run)}, nil
		},
	}
	p := newTestProvider(mock)

	got, err := p.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != "run-1" || got.Status != types.RunRunning {
		t.Errorf("got %+v", got)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	p := newTestProvider(&mockDDB{})

	_, err := p.GetRun(context.Background(), "missing")
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRun_CorruptData(t *testing.T) {
	mock := &mockDDB{
		getItemFn: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{
				Item: map[string]ddbtypes.AttributeValue{
					"PK":   &ddbtypes.AttributeValueMemberS{Value: "RUN#bad"},
					"SK":   &ddbtypes.AttributeValueMemberS{Value: "META"},
					"data": &ddbtypes.AttributeValueMemberS{Value: "not-json{{{"},
				},
			}, nil
		},
	}
	p := newTestProvider(mock)

	_, err := p.GetRun(context.Background(), "bad")
	if err == nil {
		t.Fatal("expected error for corrupt JSON data")
	}
}

func TestListRuns_FiltersAndStopsAtLimit(t *testing.T) {
	var captured *dynamodb.QueryInput
	a, b, c := testRun("a", nil), testRun("b", nil), testRun("c", nil)
	mock := &mockDDB{
		queryFn: func(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			captured = input
			return &dynamodb.QueryOutput{Items: []map[string]ddbtypes.AttributeValue{
				runItem(t, c), runItem(t, b), runItem(t, a),
			}}, nil
		},
	}
	p := newTestProvider(mock)

	runs, err := p.ListRuns(context.Background(), types.ListOptions{Status: types.RunRunning, Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("runs = %+v", runs)
	}
	if *captured.IndexName != "GSI1" {
		t.Errorf("index = %q, want GSI1", *captured.IndexName)
	}
	if *captured.ScanIndexForward {
		t.Error("ListRuns should query newest first")
	}
	if captured.FilterExpression == nil || *captured.FilterExpression != "#status = :status" {
		t.Errorf("filter = %v", captured.FilterExpression)
	}
}

func TestListChildRuns_SkipsDanglingIndex(t *testing.T) {
	parent := "run-1"
	child := testRun("run-2", &parent)
	mock := &mockDDB{
		queryFn: func(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]ddbtypes.AttributeValue{
				{"PK": &ddbtypes.AttributeValueMemberS{Value: "RUN#run-1"}, "SK": &ddbtypes.AttributeValueMemberS{Value: "CHILD#1#run-2"}, "childId": &ddbtypes.AttributeValueMemberS{Value: "run-2"}},
				{"PK": &ddbtypes.AttributeValueMemberS{Value: "RUN#run-1"}, "SK": &ddbtypes.AttributeValueMemberS{Value: "CHILD#2#gone"}, "childId": &ddbtypes.AttributeValueMemberS{Value: "gone"}},
			}}, nil
		},
		getItemFn: func(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			if strAttr(input.Key, "PK") == "RUN#run-2" {
				return &dynamodb.GetItemOutput{Item: runItem(t, child)}, nil
			}
			return &dynamodb.GetItemOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	runs, err := p.ListChildRuns(context.Background(), parent)
	if err != nil {
		t.Fatalf("ListChildRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Errorf("runs = %+v", runs)
	}
}

// ---------------------------------------------------------------------------
// CAS tests
// ---------------------------------------------------------------------------

func TestCompareAndSwapRun_Success(t *testing.T) {
	var captured *dynamodb.PutItemInput
	mock := &mockDDB{
		putItemFn: func(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = input
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	next := testRun("run-1", nil)
	next.Status = types.RunCompleted
	next.Version = 2
	ok, err := p.CompareAndSwapRun(context.Background(), "run-1", 1, next)
	if err != nil {
		t.Fatalf("CompareAndSwapRun: %v", err)
	}
	if !ok {
		t.Fatal("expected CAS to succeed")
	}

	if *captured.ConditionExpression != "attribute_exists(PK) AND #version = :expected" {
		t.Errorf("condition = %q", *captured.ConditionExpression)
	}
	expected := captured.ExpressionAttributeValues[":expected"].(*ddbtypes.AttributeValueMemberN).Value
	if expected != "1" {
		t.Errorf(":expected = %q, want 1", expected)
	}
	version := captured.Item["version"].(*ddbtypes.AttributeValueMemberN).Value
	if version != "2" {
		t.Errorf("version = %q, want 2", version)
	}
}

func TestCompareAndSwapRun_VersionMismatch(t *testing.T) {
	mock := &mockDDB{
		putItemFn: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &ddbtypes.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		},
		getItemFn: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: runItem(t, testRun("run-1", nil))}, nil
		},
	}
	p := newTestProvider(mock)

	ok, err := p.CompareAndSwapRun(context.Background(), "run-1", 5, testRun("run-1", nil))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if ok {
		t.Error("expected CAS to fail on version mismatch")
	}
}

func TestCompareAndSwapRun_Missing(t *testing.T) {
	mock := &mockDDB{
		putItemFn: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &ddbtypes.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		},
	}
	p := newTestProvider(mock)

	_, err := p.CompareAndSwapRun(context.Background(), "missing", 1, testRun("missing", nil))
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Artifact tests
// ---------------------------------------------------------------------------

func TestPutProposal_MapsCancellation(t *testing.T) {
	tests := []struct {
		name  string
		codes []string
		want  error
	}{
		{"missing run", []string{"ConditionalCheckFailed", "None"}, provider.ErrNotFound},
		{"second write", []string{"None", "ConditionalCheckFailed"}, provider.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockDDB{
				transactWriteItemFn: func(_ context.Context, _ *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
					return nil, cancelled(tt.codes...)
				},
			}
			p := newTestProvider(mock)

			err := p.PutProposal(context.Background(), types.ProposalVersion{RunID: "run-1", CreatedAt: testTime})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPutPersonaReview_KeyFormat(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	mock := &mockDDB{
		transactWriteItemFn: func(_ context.Context, input *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = input
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	review := types.NewPersonaReview("run-1", "critic", types.PersonaReviewDocument{ConfidenceScore: 0.6}, testTime)
	if err := p.PutPersonaReview(context.Background(), review); err != nil {
		t.Fatalf("PutPersonaReview: %v", err)
	}

	put := captured.TransactItems[1].Put
	if got := strAttr(put.Item, "PK"); got != "RUN#run-1" {
		t.Errorf("PK = %q, want %q", got, "RUN#run-1")
	}
	if got := strAttr(put.Item, "SK"); got != "REVIEW#critic" {
		t.Errorf("SK = %q, want %q", got, "REVIEW#critic")
	}
	if *put.ConditionExpression != "attribute_not_exists(PK)" {
		t.Errorf("condition = %q", *put.ConditionExpression)
	}
}

func TestGetDecision_NotFound(t *testing.T) {
	p := newTestProvider(&mockDDB{})

	_, err := p.GetDecision(context.Background(), "run-1")
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Event tests
// ---------------------------------------------------------------------------

func eventItem(t *testing.T, kind types.EventKind, ts time.Time) map[string]ddbtypes.AttributeValue {
	t.Helper()
	rec, err := dataRecord(runPK("run-1"), eventSK(ts), types.Event{Kind: kind, RunID: "run-1", Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}
	item, err := marshalRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	return item
}

func TestAppendEvent_MarshaledCorrectly(t *testing.T) {
	var captured *dynamodb.PutItemInput
	mock := &mockDDB{
		putItemFn: func(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = input
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	ev := types.Event{Kind: types.EventRunCreated, RunID: "run-1", Timestamp: testTime}
	if err := p.AppendEvent(context.Background(), ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if got := strAttr(captured.Item, "PK"); got != "RUN#run-1" {
		t.Errorf("PK = %q, want %q", got, "RUN#run-1")
	}
	want := fmt.Sprintf("EVENT#%013d#", testTime.UnixMilli())
	if got := strAttr(captured.Item, "SK"); len(got) <= len(want) || got[:len(want)] != want {
		t.Errorf("SK = %q, want prefix %q", got, want)
	}
}

func TestListEvents_LimitReturnsChronological(t *testing.T) {
	var captured *dynamodb.QueryInput
	mock := &mockDDB{
		queryFn: func(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			captured = input
			// newest first, as DynamoDB returns with ScanIndexForward=false
			return &dynamodb.QueryOutput{Items: []map[string]ddbtypes.AttributeValue{
				eventItem(t, types.EventRunCompleted, testTime.Add(2*time.Second)),
				eventItem(t, types.EventDecisionRecorded, testTime.Add(time.Second)),
			}}, nil
		},
	}
	p := newTestProvider(mock)

	events, err := p.ListEvents(context.Background(), "run-1", 2)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if *captured.ScanIndexForward || *captured.Limit != 2 {
		t.Errorf("query = forward %v limit %v", *captured.ScanIndexForward, *captured.Limit)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Kind != types.EventDecisionRecorded || events[1].Kind != types.EventRunCompleted {
		t.Errorf("order = %s, %s", events[0].Kind, events[1].Kind)
	}
}

// ---------------------------------------------------------------------------
// Delete tests
// ---------------------------------------------------------------------------

func TestDeleteRun_RemovesDescendants(t *testing.T) {
	grandparent := "run-0"
	root := testRun("run-1", &grandparent)
	s := func(v string) ddbtypes.AttributeValue { return &ddbtypes.AttributeValueMemberS{Value: v} }
	partitions := map[string][]map[string]ddbtypes.AttributeValue{
		"RUN#run-1": {
			{"PK": s("RUN#run-1"), "SK": s("CHILD#t#run-2"), "childId": s("run-2")},
			{"PK": s("RUN#run-1"), "SK": s("META")},
			{"PK": s("RUN#run-1"), "SK": s("PROPOSAL")},
		},
		"RUN#run-2": {
			{"PK": s("RUN#run-2"), "SK": s("META")},
			{"PK": s("RUN#run-2"), "SK": s("REVIEW#critic")},
		},
	}

	var deleted []string
	mock := &mockDDB{
		getItemFn: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: runItem(t, root)}, nil
		},
		queryFn: func(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			pk := input.ExpressionAttributeValues[":pk"].(*ddbtypes.AttributeValueMemberS).Value
			return &dynamodb.QueryOutput{Items: partitions[pk]}, nil
		},
		batchWriteItemFn: func(_ context.Context, input *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			for _, req := range input.RequestItems["test-table"] {
				deleted = append(deleted, strAttr(req.DeleteRequest.Key, "PK")+"/"+strAttr(req.DeleteRequest.Key, "SK"))
			}
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	if err := p.DeleteRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	want := []string{
		"RUN#run-0/CHILD#2025-01-15T10:30:00.000000000Z#run-1",
		"RUN#run-1/CHILD#t#run-2",
		"RUN#run-1/META",
		"RUN#run-1/PROPOSAL",
		"RUN#run-2/META",
		"RUN#run-2/REVIEW#critic",
	}
	if len(deleted) != len(want) {
		t.Fatalf("deleted = %v, want %v", deleted, want)
	}
	for i := range want {
		if deleted[i] != want[i] {
			t.Errorf("deleted[%d] = %q, want %q", i, deleted[i], want[i])
		}
	}
}

func TestDeleteRun_NotFound(t *testing.T) {
	p := newTestProvider(&mockDDB{})

	err := p.DeleteRun(context.Background(), "missing")
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBatchDelete_ResubmitsUnprocessed(t *testing.T) {
	calls := 0
	mock := &mockDDB{
		batchWriteItemFn: func(_ context.Context, input *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			calls++
			if calls == 1 {
				reqs := input.RequestItems["test-table"]
				return &dynamodb.BatchWriteItemOutput{
					UnprocessedItems: map[string][]ddbtypes.WriteRequest{"test-table": reqs[len(reqs)-1:]},
				}, nil
			}
			if n := len(input.RequestItems["test-table"]); calls == 2 && n != 1 {
				t.Errorf("resubmitted %d requests, want 1", n)
			}
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}
	p := newTestProvider(mock)

	keys := make([]map[string]ddbtypes.AttributeValue, 30)
	for i := range keys {
		keys[i] = itemKey(runPK(fmt.Sprintf("r%d", i)), skMeta)
	}
	if err := p.batchDelete(context.Background(), keys); err != nil {
		t.Fatalf("batchDelete: %v", err)
	}
	// 25 + retry of 1, then the remaining 5
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// ---------------------------------------------------------------------------
// Error classification tests
// ---------------------------------------------------------------------------

func TestIsConditionalCheckFailed(t *testing.T) {
	ccfe := &ddbtypes.ConditionalCheckFailedException{Message: strPtr("failed")}
	if !isConditionalCheckFailed(ccfe) {
		t.Error("expected true for ConditionalCheckFailedException")
	}

	wrapped := fmt.Errorf("wrapped: %w", ccfe)
	if !isConditionalCheckFailed(wrapped) {
		t.Error("expected true for wrapped ConditionalCheckFailedException")
	}

	other := errors.New("some other error")
	if isConditionalCheckFailed(other) {
		t.Error("expected false for non-conditional error")
	}
}

func TestFailedCondition(t *testing.T) {
	if got := failedCondition(nil); got != -1 {
		t.Errorf("nil error = %d, want -1", got)
	}
	if got := failedCondition(errors.New("boom")); got != -1 {
		t.Errorf("plain error = %d, want -1", got)
	}
	if got := failedCondition(cancelled("None", "ConditionalCheckFailed")); got != 1 {
		t.Errorf("cancelled = %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Ping / ensureTable tests
// ---------------------------------------------------------------------------

func TestPing_PropagatesError(t *testing.T) {
	mock := &mockDDB{
		describeTableFn: func(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
			return nil, fmt.Errorf("table not found")
		},
	}
	p := newTestProvider(mock)

	err := p.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error from Ping")
	}
}

func TestEnsureTable_AlreadyExists(t *testing.T) {
	mock := &mockDDB{
		createTableFn: func(_ context.Context, _ *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
			return nil, &ddbtypes.ResourceInUseException{Message: strPtr("already exists")}
		},
	}
	p := newTestProvider(mock)

	err := p.ensureTable(context.Background())
	if err != nil {
		t.Fatalf("ensureTable should ignore ResourceInUseException, got: %v", err)
	}
}

func TestStart_CreatesTableWhenConfigured(t *testing.T) {
	var created *dynamodb.CreateTableInput
	mock := &mockDDB{
		createTableFn: func(_ context.Context, input *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
			created = input
			return &dynamodb.CreateTableOutput{}, nil
		},
	}
	p := newTestProvider(mock)
	p.createTable = true

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if created == nil {
		t.Fatal("expected CreateTable call")
	}
	if len(created.GlobalSecondaryIndexes) != 1 || *created.GlobalSecondaryIndexes[0].IndexName != "GSI1" {
		t.Errorf("unexpected GSIs: %+v", created.GlobalSecondaryIndexes)
	}
}

func strPtr(s string) *string { return &s }
