package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	items   map[string]map[string]types.AttributeValue
	lastPut *dynamodb.PutItemInput
	putErr  error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func pkOf(key map[string]types.AttributeValue) string {
	return key[KeyAttribute].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, ok := f.items[pkOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	cp := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		cp[k] = v
	}
	return &dynamodb.GetItemOutput{Item: cp}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPut = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.items[pkOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, pkOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "table")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "drive_export/groups/g1", record{Name: "one", Active: true}))
	assert.Nil(t, fake.lastPut.ConditionExpression, "plain put has no condition")
	assert.Equal(t, "table", aws.ToString(fake.lastPut.TableName))

	var got record
	require.NoError(t, s.Get(ctx, "drive_export/groups/g1", &got))
	assert.Equal(t, record{Name: "one", Active: true}, got)

	require.NoError(t, s.Delete(ctx, "drive_export/groups/g1"))
	assert.ErrorIs(t, s.Get(ctx, "drive_export/groups/g1", &got), ErrNotFound)
}

func TestDynamoStore_ConditionalFailureIsMapped(t *testing.T) {
	fake := newFakeDynamo()
	fake.putErr = &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	s := NewDynamoStore(fake, "table")

	err := s.PutIf(context.Background(), "k", record{Name: "x"}, Condition{IfAbsent: true})
	assert.ErrorIs(t, err, ErrConditionFailed)

	fake.putErr = errors.New("throttled")
	err = s.PutIf(context.Background(), "k", record{Name: "x"}, Condition{IfAbsent: true})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConditionFailed)
}

func TestDynamoStore_Malformed(t *testing.T) {
	fake := newFakeDynamo()
	fake.items["k"] = map[string]types.AttributeValue{
		KeyAttribute: &types.AttributeValueMemberS{Value: "k"},
		"active":     &types.AttributeValueMemberS{Value: "not-a-bool"},
	}
	s := NewDynamoStore(fake, "table")

	var got record
	assert.ErrorIs(t, s.Get(context.Background(), "k", &got), ErrMalformed)
}

func TestConditionExpression(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		want string
	}{
		{"if absent", Condition{IfAbsent: true}, "attribute_not_exists(#pk)"},
		{
			"absent or failed",
			Condition{IfAbsent: true, Equal: map[string]any{"status": "failed"}},
			"attribute_not_exists(#pk) OR (attribute_exists(#pk) AND #e0 = :e0)",
		},
		{
			"equal and missing",
			Condition{Equal: map[string]any{"oauth_nonce": "n"}, Missing: []string{"used_at"}},
			"attribute_exists(#pk) AND #e0 = :e0 AND attribute_not_exists(#m0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, names, _, err := conditionExpression(tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr)
			assert.Equal(t, KeyAttribute, names["#pk"])
		})
	}
}

func TestDynamoStore_ConditionValues(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "table")

	err := s.PutIf(context.Background(), "k", record{Name: "x"}, Condition{Missing: []string{"nonce"}})
	require.NoError(t, err)
	assert.Nil(t, fake.lastPut.ExpressionAttributeValues, "empty value map must be omitted")
	assert.Equal(t, "nonce", fake.lastPut.ExpressionAttributeNames["#m0"])

	err = s.PutIf(context.Background(), "k", record{Name: "x"}, Condition{Equal: map[string]any{"active": false}})
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, fake.lastPut.ExpressionAttributeValues[":e0"])
}
