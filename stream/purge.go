// Package stream provides a DynamoDB Streams handler that removes index rows
// left behind when entity items are deleted outside the store, for example by
// a table TTL or a console delete.
package stream

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/scarecrow/store/dynamo"
)

// Purger deletes the index rows recorded on a removed entity.
// *dynamo.Backend implements it.
type Purger interface {
	PurgeIndexEntries(ctx context.Context, rec dynamo.EntityRecord) (int, error)
}

var _ Purger = (*dynamo.Backend)(nil)

// Handler processes entity table stream events.
type Handler struct {
	purger Purger
	table  string
	logger *slog.Logger
}

// NewHandler creates a new stream handler. When table is not empty, records
// from other tables' streams are ignored.
func NewHandler(p Purger, table string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		purger: p,
		table:  table,
		logger: logger,
	}
}

// HandlePurge processes REMOVE events and deletes the removed entity's index
// rows. This function is designed to be used as an AWS Lambda handler.
//
// Deletes performed by the store itself already removed the rows in the same
// transaction; replaying them is harmless because each row delete is
// conditioned on the entity's last update stamp.
func (h *Handler) HandlePurge(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}
	if h.table != "" && tableFromARN(record.EventSourceArn) != h.table {
		return nil
	}

	image := record.Change.OldImage
	if len(image) == 0 {
		h.logger.Warn("remove event without old image, check the stream view type",
			"eventID", record.EventID,
		)
		return nil
	}

	var rec dynamo.EntityRecord
	if err := attributevalue.UnmarshalMap(ConvertImage(image), &rec); err != nil {
		return fmt.Errorf("unmarshal old image: %w", err)
	}
	if len(rec.IndexKeys) == 0 {
		return nil
	}

	id := hex.EncodeToString(getBinaryAttr(image, dynamo.AttrID))
	purged, err := h.purger.PurgeIndexEntries(ctx, rec)
	if err != nil {
		return fmt.Errorf("purge index rows of %s: %w", id, err)
	}

	h.logger.Info("purged index rows",
		"id", id,
		"version", getNumberAttr(image, dynamo.AttrVersion),
		"updatedAt", getStringAttr(image, dynamo.AttrUpdatedAt),
		"rows", purged,
		"recorded", len(rec.IndexKeys),
	)
	return nil
}

// tableFromARN extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/NAME/stream/LABEL.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getBinaryAttr extracts a binary attribute from a DynamoDB stream image.
func getBinaryAttr(image map[string]events.DynamoDBAttributeValue, key string) []byte {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeBinary {
		return v.Binary()
	}
	return nil
}

// ConvertImage converts a DynamoDB stream image to SDK attribute values so
// it can be decoded with attributevalue.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convert(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convert(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convert(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	}
	return nil
}
