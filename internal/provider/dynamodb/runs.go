package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// Batch write limits.
const (
	maxBatchWrite    = 25
	maxBatchAttempts = 5
)

var errUnprocessed = errors.New("unprocessed batch items")

func runRecord(run types.Run) (record, error) {
	r, err := dataRecord(runPK(run.ID), skMeta, run)
	if err != nil {
		return record{}, err
	}
	r.GSI1PK = gsiAllRuns
	r.GSI1SK = runListSK(run.CreatedAt, run.ID)
	r.Status = string(run.Status)
	r.Version = run.Version
	return r, nil
}

// PutRun inserts a run. Revisions also get a CHILD# index item in the
// parent's partition, written in the same transaction as a parent check.
func (p *DynamoDBProvider) PutRun(ctx context.Context, run types.Run) error {
	rec, err := runRecord(run)
	if err != nil {
		return err
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	txItems := []ddbtypes.TransactWriteItem{{
		Put: &ddbtypes.Put{
			TableName:           &p.tableName,
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	if run.ParentRunID != nil {
		parentID := *run.ParentRunID
		child, err := marshalRecord(record{
			PK:      runPK(parentID),
			SK:      childSK(run.CreatedAt, run.ID),
			ChildID: run.ID,
		})
		if err != nil {
			return err
		}
		txItems = append(txItems,
			ddbtypes.TransactWriteItem{ConditionCheck: &ddbtypes.ConditionCheck{
				TableName:           &p.tableName,
				Key:                 metaKey(parentID),
				ConditionExpression: aws.String("attribute_exists(PK)"),
			}},
			ddbtypes.TransactWriteItem{Put: &ddbtypes.Put{TableName: &p.tableName, Item: child}},
		)
	}

	_, err = p.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: txItems})
	switch failedCondition(err) {
	case -1:
	case 0:
		return fmt.Errorf("run %q: %w", run.ID, provider.ErrAlreadyExists)
	default:
		return fmt.Errorf("parent run %q: %w", *run.ParentRunID, provider.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("put run %q: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run (strongly consistent).
func (p *DynamoDBProvider) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key:            metaKey(runID),
	})
	if err != nil {
		return nil, fmt.Errorf("get run %q: %w", runID, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	}
	var run types.Run
	if err := decodeData(out.Item, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CompareAndSwapRun replaces a run only if its stored version matches.
func (p *DynamoDBProvider) CompareAndSwapRun(ctx context.Context, runID string, expectedVersion int, next types.Run) (bool, error) {
	rec, err := runRecord(next)
	if err != nil {
		return false, err
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return false, err
	}

	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                &p.tableName,
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(PK) AND #version = :expected"),
		ExpressionAttributeNames: map[string]string{"#version": "version"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":expected": &ddbtypes.AttributeValueMemberN{Value: strconv.Itoa(expectedVersion)},
		},
	})
	if err == nil {
		return true, nil
	}
	if !isConditionalCheckFailed(err) {
		return false, fmt.Errorf("cas run %q: %w", runID, err)
	}
	if _, err := p.GetRun(ctx, runID); err != nil {
		return false, err
	}
	return false, nil
}

// ListRuns returns runs newest first via GSI1.
func (p *DynamoDBProvider) ListRuns(ctx context.Context, opts types.ListOptions) ([]types.Run, error) {
	input := &dynamodb.QueryInput{
		TableName:              &p.tableName,
		IndexName:              aws.String(indexGSI1),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: gsiAllRuns},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if opts.Status != "" {
		input.FilterExpression = aws.String("#status = :status")
		input.ExpressionAttributeNames = map[string]string{"#status": "status"}
		input.ExpressionAttributeValues[":status"] = &ddbtypes.AttributeValueMemberS{Value: string(opts.Status)}
	}

	runs := []types.Run{}
	paginator := dynamodb.NewQueryPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		for _, item := range page.Items {
			var run types.Run
			if err := decodeData(item, &run); err != nil {
				p.logger.Warn("skipping corrupt run entry", "error", err)
				continue
			}
			runs = append(runs, run)
			if opts.Limit > 0 && len(runs) == opts.Limit {
				return runs, nil
			}
		}
	}
	return runs, nil
}

// ListChildRuns returns the revisions of parentID, oldest first.
func (p *DynamoDBProvider) ListChildRuns(ctx context.Context, parentID string) ([]types.Run, error) {
	items, err := p.queryPartition(ctx, runPK(parentID), prefixChild)
	if err != nil {
		return nil, fmt.Errorf("list children of %q: %w", parentID, err)
	}
	runs := make([]types.Run, 0, len(items))
	for _, r := range items {
		run, err := p.GetRun(ctx, r.ChildID)
		if errors.Is(err, provider.ErrNotFound) {
			p.logger.Warn("dangling child index", "parent", parentID, "child", r.ChildID)
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// DeleteRun removes a run's partition and every descendant's partition,
// then the run's index item under its parent.
func (p *DynamoDBProvider) DeleteRun(ctx context.Context, runID string) error {
	root, err := p.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	var keys []map[string]ddbtypes.AttributeValue
	if root.ParentRunID != nil {
		keys = append(keys, itemKey(runPK(*root.ParentRunID), childSK(root.CreatedAt, root.ID)))
	}
	queue := []string{runID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		items, err := p.queryPartition(ctx, runPK(id), "")
		if err != nil {
			return fmt.Errorf("delete run %q: %w", runID, err)
		}
		for _, r := range items {
			keys = append(keys, itemKey(r.PK, r.SK))
			if r.ChildID != "" {
				queue = append(queue, r.ChildID)
			}
		}
	}

	if err := p.batchDelete(ctx, keys); err != nil {
		return fmt.Errorf("delete run %q: %w", runID, err)
	}
	p.logger.Debug("deleted run tree", "run", runID, "items", len(keys))
	return nil
}

// queryPartition returns the keys and child ids of every item in pk whose
// SK begins with prefix.
func (p *DynamoDBProvider) queryPartition(ctx context.Context, pk, prefix string) ([]record, error) {
	input := &dynamodb.QueryInput{
		TableName:              &p.tableName,
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("PK = :pk"),
		ProjectionExpression:   aws.String("PK, SK, childId"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: pk},
		},
	}
	if prefix != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &ddbtypes.AttributeValueMemberS{Value: prefix}
	}

	items, err := p.queryItems(ctx, input)
	if err != nil {
		return nil, err
	}
	return unmarshalRecords(items)
}

// batchDelete removes keys in batches, resubmitting unprocessed items.
func (p *DynamoDBProvider) batchDelete(ctx context.Context, keys []map[string]ddbtypes.AttributeValue) error {
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))
		reqs := make([]ddbtypes.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, ddbtypes.WriteRequest{DeleteRequest: &ddbtypes.DeleteRequest{Key: k}})
		}

		pending := map[string][]ddbtypes.WriteRequest{p.tableName: reqs}
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			out, err := p.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			if len(out.UnprocessedItems) > 0 {
				pending = out.UnprocessedItems
				return struct{}{}, errUnprocessed
			}
			return struct{}{}, nil
		}, backoff.WithMaxTries(maxBatchAttempts))
		if err != nil {
			return err
		}
	}
	return nil
}
