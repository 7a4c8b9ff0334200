package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pnvasko/hit-counter/common"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	hitsFieldPlaceholder = "#hits"
	incrPlaceholder      = ":incr"
)

// DynamoDBUpdateItemAPI is the part of *dynamodb.Client the counter uses.
type DynamoDBUpdateItemAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

type DynamoDBCounter struct {
	*baseStore
	client DynamoDBUpdateItemAPI

	tracer trace.Tracer
	logger *common.Logger
}

func NewDynamoDBCounter(client DynamoDBUpdateItemAPI, tableName string, tracer trace.Tracer, logger *common.Logger, opts ...StoreOption[*DynamoDBCounter]) (*DynamoDBCounter, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	dc := &DynamoDBCounter{
		baseStore: newBaseStore(tableName),
		client:    client,
		tracer:    tracer,
		logger:    logger,
	}

	for _, opt := range opts {
		if err := opt(dc); err != nil {
			return nil, err
		}
	}

	if dc.tableName == "" {
		return nil, fmt.Errorf("dynamodb counter table name is required")
	}
	return dc, nil
}

// Incr sends "ADD <field> :incr" for the record keyed by key. DynamoDB
// evaluates the addition, creating the record on first use.
func (dc *DynamoDBCounter) Incr(ctx context.Context, key string) error {
	if key == "" {
		return common.NewStoreError(key, common.ErrEmptyKey)
	}

	ctx, span := dc.tracer.Start(ctx, "dynamodb.update_item",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemKey.String("dynamodb"),
			attribute.String("aws.dynamodb.table_name", dc.tableName),
		),
	)
	defer span.End()

	_, err := dc.client.UpdateItem(ctx, dc.updateItemInput(key))
	if err != nil {
		return common.SetSpanError(ctx, "dynamodb counter update failed", common.NewStoreError(key, err),
			attribute.String("table", dc.tableName))
	}
	dc.logger.Ctx(ctx).Debug("hit count incremented", zap.String("table", dc.tableName), zap.String("key", key))
	return nil
}

func (dc *DynamoDBCounter) updateItemInput(key string) *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName: aws.String(dc.tableName),
		Key: map[string]types.AttributeValue{
			dc.keyAttribute: &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String(fmt.Sprintf("ADD %s %s", hitsFieldPlaceholder, incrPlaceholder)),
		ExpressionAttributeNames: map[string]string{
			hitsFieldPlaceholder: dc.hitsField,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			incrPlaceholder: &types.AttributeValueMemberN{Value: strconv.FormatInt(dc.increment, 10)},
		},
		ReturnValues: types.ReturnValueNone,
	}
}
