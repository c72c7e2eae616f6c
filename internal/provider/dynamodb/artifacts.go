package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// putOnce writes a write-once artifact into the run's partition. The run's
// META item must exist.
func (p *DynamoDBProvider) putOnce(ctx context.Context, runID, sk, what string, v any) error {
	rec, err := dataRecord(runPK(runID), sk, v)
	if err != nil {
		return err
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	_, err = p.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{ConditionCheck: &ddbtypes.ConditionCheck{
				TableName:           &p.tableName,
				Key:                 metaKey(runID),
				ConditionExpression: aws.String("attribute_exists(PK)"),
			}},
			{Put: &ddbtypes.Put{
				TableName:           &p.tableName,
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	switch failedCondition(err) {
	case -1:
	case 0:
		return fmt.Errorf("%s: run: %w", what, provider.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", what, provider.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", what, err)
	}
	return nil
}

func (p *DynamoDBProvider) getOnce(ctx context.Context, runID, sk, what string, v any) error {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key:            itemKey(runPK(runID), sk),
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", what, err)
	}
	if out.Item == nil {
		return fmt.Errorf("%s: %w", what, provider.ErrNotFound)
	}
	return decodeData(out.Item, v)
}

// PutProposal stores the run's proposal version.
func (p *DynamoDBProvider) PutProposal(ctx context.Context, pv types.ProposalVersion) error {
	return p.putOnce(ctx, pv.RunID, skProposal, fmt.Sprintf("proposal for run %q", pv.RunID), pv)
}

// GetProposal retrieves the run's proposal version.
func (p *DynamoDBProvider) GetProposal(ctx context.Context, runID string) (*types.ProposalVersion, error) {
	var pv types.ProposalVersion
	if err := p.getOnce(ctx, runID, skProposal, fmt.Sprintf("proposal for run %q", runID), &pv); err != nil {
		return nil, err
	}
	return &pv, nil
}

// PutPersonaReview stores one persona's review.
func (p *DynamoDBProvider) PutPersonaReview(ctx context.Context, review types.PersonaReview) error {
	what := fmt.Sprintf("review %s for run %q", review.PersonaID, review.RunID)
	return p.putOnce(ctx, review.RunID, reviewSK(review.PersonaID), what, review)
}

// ListPersonaReviews returns a run's reviews ordered by persona id.
func (p *DynamoDBProvider) ListPersonaReviews(ctx context.Context, runID string) ([]types.PersonaReview, error) {
	items, err := p.queryItems(ctx, &dynamodb.QueryInput{
		TableName:              &p.tableName,
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixReview},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list reviews for run %q: %w", runID, err)
	}
	reviews := make([]types.PersonaReview, 0, len(items))
	for _, item := range items {
		var r types.PersonaReview
		if err := decodeData(item, &r); err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, nil
}

// PutDecision stores the run's decision.
func (p *DynamoDBProvider) PutDecision(ctx context.Context, d types.Decision) error {
	return p.putOnce(ctx, d.RunID, skDecision, fmt.Sprintf("decision for run %q", d.RunID), d)
}

// GetDecision retrieves the run's decision.
func (p *DynamoDBProvider) GetDecision(ctx context.Context, runID string) (*types.Decision, error) {
	var d types.Decision
	if err := p.getOnce(ctx, runID, skDecision, fmt.Sprintf("decision for run %q", runID), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AppendEvent writes an event to the run's partition.
func (p *DynamoDBProvider) AppendEvent(ctx context.Context, event types.Event) error {
	rec, err := dataRecord(runPK(event.RunID), eventSK(event.Timestamp), event)
	if err != nil {
		return err
	}
	item, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("append event for run %q: %w", event.RunID, err)
	}
	return nil
}

// ListEvents returns the run's events oldest first. A positive limit keeps
// the most recent limit events.
func (p *DynamoDBProvider) ListEvents(ctx context.Context, runID string, limit int) ([]types.Event, error) {
	input := &dynamodb.QueryInput{
		TableName:              &p.tableName,
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixEvent},
		},
	}

	var items []map[string]ddbtypes.AttributeValue
	if limit > 0 {
		// Query newest-first, then reverse for chronological order.
		input.ScanIndexForward = aws.Bool(false)
		input.Limit = aws.Int32(int32(limit))
		out, err := p.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list events for run %q: %w", runID, err)
		}
		items = out.Items
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	} else {
		var err error
		items, err = p.queryItems(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list events for run %q: %w", runID, err)
		}
	}

	events := make([]types.Event, 0, len(items))
	for _, item := range items {
		var ev types.Event
		if err := decodeData(item, &ev); err != nil {
			p.logger.Warn("skipping corrupt event entry", "run", runID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// queryItems runs a query to completion.
func (p *DynamoDBProvider) queryItems(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]ddbtypes.AttributeValue, error) {
	var items []map[string]ddbtypes.AttributeValue
	paginator := dynamodb.NewQueryPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}
