package kv

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyAttribute is the partition key attribute of the table.
const KeyAttribute = "pk"

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps every record in a single table keyed by path.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoStore creates a store over tableName.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func (s *DynamoStore) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		KeyAttribute: &types.AttributeValueMemberS{Value: key},
	}
}

func (s *DynamoStore) Get(ctx context.Context, key string, out any) error {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if res.Item == nil {
		return ErrNotFound
	}
	delete(res.Item, KeyAttribute)
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return nil
}

func (s *DynamoStore) Put(ctx context.Context, key string, item any) error {
	return s.PutIf(ctx, key, item, Condition{})
}

func (s *DynamoStore) PutIf(ctx context.Context, key string, item any, cond Condition) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	av[KeyAttribute] = &types.AttributeValueMemberS{Value: key}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}
	if !cond.unconditional() {
		expr, names, values, err := conditionExpression(cond)
		if err != nil {
			return fmt.Errorf("condition for %s: %w", key, err)
		}
		input.ConditionExpression = aws.String(expr)
		input.ExpressionAttributeNames = names
		if len(values) > 0 {
			input.ExpressionAttributeValues = values
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConditionFailed
		}
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// conditionExpression renders cond as a DynamoDB condition expression.
func conditionExpression(cond Condition) (string, map[string]string, map[string]types.AttributeValue, error) {
	names := map[string]string{"#pk": KeyAttribute}
	values := map[string]types.AttributeValue{}

	var clauses []string
	for i, field := range slices.Sorted(maps.Keys(cond.Equal)) {
		v, err := attributevalue.Marshal(cond.Equal[field])
		if err != nil {
			return "", nil, nil, err
		}
		name, placeholder := fmt.Sprintf("#e%d", i), fmt.Sprintf(":e%d", i)
		names[name] = field
		values[placeholder] = v
		clauses = append(clauses, name+" = "+placeholder)
	}
	for i, field := range cond.Missing {
		name := fmt.Sprintf("#m%d", i)
		names[name] = field
		clauses = append(clauses, "attribute_not_exists("+name+")")
	}

	var existing string
	if len(clauses) > 0 {
		existing = "attribute_exists(#pk) AND " + strings.Join(clauses, " AND ")
	}
	switch {
	case cond.IfAbsent && existing != "":
		return "attribute_not_exists(#pk) OR (" + existing + ")", names, values, nil
	case cond.IfAbsent:
		return "attribute_not_exists(#pk)", names, values, nil
	default:
		return existing, names, values, nil
	}
}
