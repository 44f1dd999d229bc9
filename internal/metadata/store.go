package metadata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/snapfind/snapfind/internal/config"
	"github.com/snapfind/snapfind/internal/util"
)

// dynamoApi is the narrow slice of the document db client the store uses.
// It exists so tests can substitute a double for the real client.
type dynamoApi interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// NewStore creates a new metadata store over the given document db client,
// returning a pointer to the concrete implementation.
func NewStore(api dynamoApi, tables config.Tables) Store {
	return &dynamoStore{
		api:    api,
		tables: tables,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageMetadata)).
			With(slog.String(util.ComponentKey, util.ComponentStats)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ Store = (*dynamoStore)(nil)

// dynamoStore is the concrete implementation of the Store interface.
type dynamoStore struct {
	api    dynamoApi
	tables config.Tables

	logger *slog.Logger
}

// GetEvent is the concrete implementation of the interface method which
// retrieves an event record, or nil if the event does not exist.
func (s *dynamoStore) GetEvent(ctx context.Context, eventId string) (*EventRecord, error) {

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Events),
		Key: map[string]ddbtypes.AttributeValue{
			"eventId": &ddbtypes.AttributeValueMemberS{Value: eventId},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get event '%s': %v", eventId, err)
	}

	if out.Item == nil {
		return nil, nil
	}

	var record EventRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event record '%s': %v", eventId, err)
	}

	return &record, nil
}

// GetUser is the concrete implementation of the interface method which
// retrieves a user record by email, or nil if the user does not exist.
func (s *dynamoStore) GetUser(ctx context.Context, email string) (*UserRecord, error) {

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Users),
		Key: map[string]ddbtypes.AttributeValue{
			"email": &ddbtypes.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user '%s': %v", email, err)
	}

	if out.Item == nil {
		return nil, nil
	}

	var record UserRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user record '%s': %v", email, err)
	}

	return &record, nil
}

// UpdateEventStats is the concrete implementation of the interface method
// which applies a completed batch's aggregates to the event record.
func (s *dynamoStore) UpdateEventStats(ctx context.Context, eventId string, delta StatsDelta) error {

	originalSize, originalUnit := DisplaySize(delta.OriginalBytes)
	compressedSize, compressedUnit := DisplaySize(delta.CompressedBytes)

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Events),
		Key: map[string]ddbtypes.AttributeValue{
			"eventId": &ddbtypes.AttributeValueMemberS{Value: eventId},
		},
		UpdateExpression: aws.String("ADD photoCount :pc SET totalImageSize = :tis, totalImageSizeUnit = :tisUnit, totalCompressedSize = :tcs, totalCompressedSizeUnit = :tcsUnit"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pc":      &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", delta.PhotoCount)},
			":tis":     &ddbtypes.AttributeValueMemberN{Value: formatSize(originalSize)},
			":tisUnit": &ddbtypes.AttributeValueMemberS{Value: originalUnit},
			":tcs":     &ddbtypes.AttributeValueMemberN{Value: formatSize(compressedSize)},
			":tcsUnit": &ddbtypes.AttributeValueMemberS{Value: compressedUnit},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update statistics for event '%s': %v", eventId, err)
	}

	s.logger.Info(fmt.Sprintf("updated statistics for event '%s': +%d photos, %s %s original, %s %s compressed",
		eventId, delta.PhotoCount, formatSize(originalSize), originalUnit, formatSize(compressedSize), compressedUnit))

	return nil
}
