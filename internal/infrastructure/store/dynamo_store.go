package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoBatchSize is the BatchWriteItem request limit.
const dynamoBatchSize = 25

// DynamoStore keeps all collections in one DynamoDB table keyed by
// collection (partition key) and id (sort key).
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// dynamoRecord represents the DynamoDB item structure
type dynamoRecord struct {
	Collection string `dynamodbav:"collection"`
	ID         string `dynamodbav:"id"`
	Data       string `dynamodbav:"data"`
	CreatedAt  string `dynamodbav:"created_at"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// NewDynamoClient builds a client from the default AWS credential chain.
// endpoint overrides the service URL (DynamoDB Local); empty uses AWS.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (ds *DynamoStore) key(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"collection": &types.AttributeValueMemberS{Value: collection},
		"id":         &types.AttributeValueMemberS{Value: id},
	}
}

func (ds *DynamoStore) query(ctx context.Context, collection string) ([]dynamoRecord, error) {
	var (
		recs     []dynamoRecord
		startKey map[string]types.AttributeValue
	)
	for {
		result, err := ds.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(ds.tableName),
			KeyConditionExpression: aws.String("#c = :c"),
			ExpressionAttributeNames: map[string]string{
				"#c": "collection",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c": &types.AttributeValueMemberS{Value: collection},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", collection, err)
		}
		for _, item := range result.Items {
			var rec dynamoRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s item: %w", collection, err)
			}
			recs = append(recs, rec)
		}
		if len(result.LastEvaluatedKey) == 0 {
			return recs, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

// All returns the collection ordered by creation time. Items come back from
// DynamoDB in sort-key order, so ordering happens client side.
func (ds *DynamoStore) All(ctx context.Context, collection string) ([]json.RawMessage, error) {
	recs, err := ds.query(ctx, collection)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt < recs[j].CreatedAt
	})
	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		out = append(out, json.RawMessage(r.Data))
	}
	return out, nil
}

func (ds *DynamoStore) FindByID(ctx context.Context, collection, id string) (json.RawMessage, bool, error) {
	result, err := ds.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(ds.tableName),
		Key:            ds.key(collection, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	if result.Item == nil {
		return nil, false, nil
	}
	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal %s/%s: %w", collection, id, err)
	}
	return json.RawMessage(rec.Data), true, nil
}

func (ds *DynamoStore) Insert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if id == "" {
		return ErrMissingID
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	av, err := attributevalue.MarshalMap(dynamoRecord{
		Collection: collection,
		ID:         id,
		Data:       string(doc),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, id, err)
	}

	// Conditional write rejects a second record with the same key
	_, err = ds.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(ds.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (ds *DynamoStore) Update(ctx context.Context, collection, id string, doc json.RawMessage) (bool, error) {
	_, err := ds.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(ds.tableName),
		Key:                 ds.key(collection, id),
		UpdateExpression:    aws.String("SET #d = :d, updated_at = :u"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#d": "data",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: string(doc)},
			":u": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (ds *DynamoStore) Remove(ctx context.Context, collection, id string) (bool, error) {
	result, err := ds.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(ds.tableName),
		Key:          ds.key(collection, id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return len(result.Attributes) > 0, nil
}

// SaveAll deletes the current items and writes docs in batches. DynamoDB has
// no multi-batch transaction, so a failure midway leaves a partial collection.
func (ds *DynamoStore) SaveAll(ctx context.Context, collection string, docs []Document) error {
	existing, err := ds.query(ctx, collection)
	if err != nil {
		return err
	}

	var requests []types.WriteRequest
	for _, rec := range existing {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: ds.key(collection, rec.ID)},
		})
	}
	if err := ds.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}

	requests = requests[:0]
	base := time.Now().UTC()
	for i, d := range docs {
		if d.ID == "" {
			return ErrMissingID
		}
		ts := base.Add(time.Duration(i) * time.Microsecond).Format(time.RFC3339Nano)
		av, err := attributevalue.MarshalMap(dynamoRecord{
			Collection: collection,
			ID:         d.ID,
			Data:       string(d.Data),
			CreatedAt:  ts,
			UpdatedAt:  ts,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", collection, d.ID, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	if err := ds.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}
	return nil
}

func (ds *DynamoStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += dynamoBatchSize {
		end := min(start+dynamoBatchSize, len(requests))
		pending := map[string][]types.WriteRequest{ds.tableName: requests[start:end]}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > 5 {
				return errors.New("unprocessed items after retries")
			}
			if attempt > 0 {
				time.Sleep(time.Duration(attempt*50) * time.Millisecond)
			}
			out, err := ds.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}
