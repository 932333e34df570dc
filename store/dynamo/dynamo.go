// Package dynamo implements store.Backend on Amazon DynamoDB.
//
// Bodies live in one entity table keyed by the binary object id. Every index
// gets its own table: the partition key is a shard of the owning id and the
// binary sort key is the order-preserving encoding of the value followed by
// the id, so equality and range lookups are single strongly consistent Query
// calls per shard. Each entity item records the keys of its index rows in
// _index_keys, which lets Update remove stale rows without reading the index
// tables and lets the stream package purge rows of entities deleted behind
// the store's back.
//
// Table schemas:
//
//	entities:   id (B, HASH)
//	index_*:    pk (S, HASH), sk (B, RANGE)
//
// Update runs as one TransactWriteItems call guarded by the entity's version,
// giving store.Transactional consistency. A concurrent writer that commits
// first makes the loser fail with store.ErrConcurrentModification.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jacentio/scarecrow/ident"
	"github.com/jacentio/scarecrow/internal/shard"
	"github.com/jacentio/scarecrow/store"
)

// Attribute names shared by the backend and the stream handler.
const (
	AttrID        = "id"
	AttrBody      = "body"
	AttrUpdatedAt = "updated_at"
	AttrVersion   = "version"
	AttrIndexKeys = "_index_keys"

	attrPK       = "pk"
	attrSK       = "sk"
	attrEntityID = "entity_id"
	attrValue    = "value"
)

// IndexKey locates one index row.
type IndexKey struct {
	PK string `dynamodbav:"pk"`
	SK []byte `dynamodbav:"sk"`
}

// EntityRecord is the stored form of an entity item.
type EntityRecord struct {
	ID        []byte              `dynamodbav:"id"`
	Body      []byte              `dynamodbav:"body"`
	UpdatedAt string              `dynamodbav:"updated_at"`
	Version   int64               `dynamodbav:"version"`
	IndexKeys map[string]IndexKey `dynamodbav:"_index_keys,omitempty"`
}

type indexRecord struct {
	PK        string `dynamodbav:"pk"`
	SK        []byte `dynamodbav:"sk"`
	EntityID  []byte `dynamodbav:"entity_id"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// Backend is a store.Backend on DynamoDB.
type Backend struct {
	client  Client
	config  Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// New creates a Backend using client.
func New(client Client, config Config) *Backend {
	config.validate()
	b := &Backend{
		client: client,
		config: config,
		logger: config.Logger,
	}
	if config.RequestsPerSecond > 0 {
		burst := max(1, int(config.RequestsPerSecond))
		b.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return b
}

// Config returns the validated configuration.
func (b *Backend) Config() Config {
	return b.config
}

// Consistency implements store.Backend.
func (b *Backend) Consistency() store.Consistency {
	if b.config.NonTransactional {
		return store.Eventual
	}
	return store.Transactional
}

// IndexTable returns the table name backing the named index.
func (b *Backend) IndexTable(name string) string {
	return b.config.IndexTablePrefix + name
}

// wait blocks until the rate limiter admits one more request.
func (b *Backend) wait(ctx context.Context) error {
	if b.limiter == nil {
		return ctx.Err()
	}
	return b.limiter.Wait(ctx)
}

// --- Install ---

// InstallEntities implements store.Backend.
func (b *Backend) InstallEntities(ctx context.Context, drop bool) error {
	return b.installTable(ctx, b.config.EntityTable, drop,
		[]types.KeySchemaElement{
			{AttributeName: aws.String(AttrID), KeyType: types.KeyTypeHash},
		},
		[]types.AttributeDefinition{
			{AttributeName: aws.String(AttrID), AttributeType: types.ScalarAttributeTypeB},
		},
	)
}

// InstallIndex implements store.Backend.
func (b *Backend) InstallIndex(ctx context.Context, d store.Descriptor, drop bool) error {
	return b.installTable(ctx, b.IndexTable(d.Name), drop,
		[]types.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrSK), KeyType: types.KeyTypeRange},
		},
		[]types.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSK), AttributeType: types.ScalarAttributeTypeB},
		},
	)
}

func (b *Backend) installTable(ctx context.Context, table string, drop bool, keys []types.KeySchemaElement, attrs []types.AttributeDefinition) error {
	if drop {
		if err := b.dropTable(ctx, table); err != nil {
			return err
		}
	}

	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(table),
		KeySchema:            keys,
		AttributeDefinitions: attrs,
		BillingMode:          types.BillingModePayPerRequest,
		StreamSpecification:  b.streamSpec(table),
	})
	var inUse *types.ResourceInUseException
	switch {
	case errors.As(err, &inUse):
		b.logger.Debug("table already exists", "table", table)
	case err != nil:
		return fmt.Errorf("create table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(b.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, b.config.InstallTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}

	b.logger.Info("table ready", "table", table, "drop", drop)
	return nil
}

// streamSpec enables old images on the entity table for the purge handler.
func (b *Backend) streamSpec(table string) *types.StreamSpecification {
	if table != b.config.EntityTable {
		return nil
	}
	return &types.StreamSpecification{
		StreamEnabled:  aws.Bool(true),
		StreamViewType: types.StreamViewTypeOldImage,
	}
}

func (b *Backend) dropTable(ctx context.Context, table string) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	})
	var notFound *types.ResourceNotFoundException
	switch {
	case errors.As(err, &notFound):
		return nil
	case err != nil:
		return fmt.Errorf("delete table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableNotExistsWaiter(b.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, b.config.InstallTimeout); err != nil {
		return fmt.Errorf("wait for table %s deletion: %w", table, err)
	}
	b.logger.Info("table dropped", "table", table)
	return nil
}

// --- Entity reads ---

func entityKey(id ident.ObjectID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrID: &types.AttributeValueMemberB{Value: id.Bytes()},
	}
}

// getEntity reads the entity item with a strongly consistent read.
func (b *Backend) getEntity(ctx context.Context, id ident.ObjectID, projection ...string) (*EntityRecord, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(b.config.EntityTable),
		Key:            entityKey(id),
		ConsistentRead: aws.Bool(true),
	}
	if len(projection) > 0 {
		input.ProjectionExpression, input.ExpressionAttributeNames = project(projection)
	}

	result, err := b.client.GetItem(ctx, input)
	if err != nil {
		return nil, mapError(b.config.EntityTable, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var rec EntityRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal entity %s: %w", id, err)
	}
	return &rec, nil
}

// project builds a projection expression with placeholder names, since
// several attribute names are DynamoDB reserved words.
func project(attrs []string) (*string, map[string]string) {
	names := make(map[string]string, len(attrs))
	expr := ""
	for i, a := range attrs {
		placeholder := fmt.Sprintf("#p%d", i)
		names[placeholder] = a
		if i > 0 {
			expr += ", "
		}
		expr += placeholder
	}
	return aws.String(expr), names
}

// Exists implements store.Backend.
func (b *Backend) Exists(ctx context.Context, id ident.ObjectID) (bool, error) {
	rec, err := b.getEntity(ctx, id, AttrID)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Get implements store.Backend.
func (b *Backend) Get(ctx context.Context, id ident.ObjectID) ([]byte, bool, error) {
	rec, err := b.getEntity(ctx, id, AttrBody)
	if err != nil || rec == nil {
		return nil, false, err
	}
	return rec.Body, true, nil
}

// LastUpdate implements store.Backend.
func (b *Backend) LastUpdate(ctx context.Context, id ident.ObjectID) (time.Time, bool, error) {
	rec, err := b.getEntity(ctx, id, AttrUpdatedAt)
	if err != nil || rec == nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse updated_at of %s: %w", id, err)
	}
	return t.UTC(), true, nil
}

// Count implements store.Backend. The result is exact but costs a full
// table scan.
func (b *Backend) Count(ctx context.Context) (int64, error) {
	var n int64
	var start map[string]types.AttributeValue
	for {
		if err := b.wait(ctx); err != nil {
			return 0, err
		}
		result, err := b.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(b.config.EntityTable),
			Select:            types.SelectCount,
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return 0, mapError(b.config.EntityTable, err)
		}
		n += int64(result.Count)
		if len(result.LastEvaluatedKey) == 0 {
			return n, nil
		}
		start = result.LastEvaluatedKey
	}
}

// IDs implements store.Backend. Pages are fetched as iteration proceeds.
func (b *Backend) IDs(ctx context.Context) iter.Seq2[ident.ObjectID, error] {
	return func(yield func(ident.ObjectID, error) bool) {
		proj, names := project([]string{AttrID})
		var start map[string]types.AttributeValue
		for {
			if err := b.wait(ctx); err != nil {
				yield(ident.Zero, err)
				return
			}
			result, err := b.client.Scan(ctx, &dynamodb.ScanInput{
				TableName:                aws.String(b.config.EntityTable),
				ProjectionExpression:     proj,
				ExpressionAttributeNames: names,
				ConsistentRead:           aws.Bool(true),
				Limit:                    aws.Int32(b.config.PageSize),
				ExclusiveStartKey:        start,
			})
			if err != nil {
				yield(ident.Zero, mapError(b.config.EntityTable, err))
				return
			}
			for _, item := range result.Items {
				var rec EntityRecord
				if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
					yield(ident.Zero, fmt.Errorf("unmarshal entity id: %w", err))
					return
				}
				id, err := ident.FromBytes(rec.ID)
				if err != nil {
					yield(ident.Zero, err)
					return
				}
				if !yield(id, nil) {
					return
				}
			}
			if len(result.LastEvaluatedKey) == 0 {
				return
			}
			start = result.LastEvaluatedKey
		}
	}
}

// --- Index reads ---

func rangeQuery(table, pk string, from, to []byte) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("#pk = :pk AND #sk BETWEEN :from AND :to"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
			"#sk": attrSK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: pk},
			":from": &types.AttributeValueMemberB{Value: from},
			":to":   &types.AttributeValueMemberB{Value: to},
		},
		ConsistentRead: aws.Bool(true),
	}
}

// Scan implements store.Backend. Shards are read one after another; within
// a shard hits are ordered by value, then id.
func (b *Backend) Scan(ctx context.Context, d store.Descriptor, lo, hi store.Value, bodies bool) iter.Seq2[store.Hit, error] {
	return func(yield func(store.Hit, error) bool) {
		table := b.IndexTable(d.Name)
		from, to := keyRange(lo, hi)

		for _, pk := range shard.All(b.config.NumShards) {
			input := rangeQuery(table, pk, from, to)
			input.Limit = aws.Int32(b.config.PageSize)
			for {
				if err := b.wait(ctx); err != nil {
					yield(store.Hit{}, err)
					return
				}
				result, err := b.client.Query(ctx, input)
				if err != nil {
					yield(store.Hit{}, mapError(table, err))
					return
				}
				for _, item := range result.Items {
					hit, ok, err := b.hit(ctx, d, item, bodies)
					if err != nil {
						yield(store.Hit{}, err)
						return
					}
					if !ok {
						continue
					}
					if !yield(hit, nil) {
						return
					}
				}
				if len(result.LastEvaluatedKey) == 0 {
					break
				}
				input.ExclusiveStartKey = result.LastEvaluatedKey
			}
		}
	}
}

// hit decodes one index row. With bodies, rows whose entity is gone or no
// longer points at the row are skipped.
func (b *Backend) hit(ctx context.Context, d store.Descriptor, item map[string]types.AttributeValue, bodies bool) (store.Hit, bool, error) {
	var row indexRecord
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return store.Hit{}, false, fmt.Errorf("unmarshal index row: %w", err)
	}
	v, id, err := parseSortKey(d.Kind, row.SK)
	if err != nil {
		return store.Hit{}, false, fmt.Errorf("index %s: %w", d.Name, err)
	}
	hit := store.Hit{ID: id, Value: v}
	if !bodies {
		return hit, true, nil
	}

	rec, err := b.getEntity(ctx, id, AttrBody, AttrIndexKeys)
	if err != nil {
		return store.Hit{}, false, err
	}
	if rec == nil {
		return store.Hit{}, false, nil
	}
	if k, ok := rec.IndexKeys[d.Name]; !ok || string(k.SK) != string(row.SK) {
		return store.Hit{}, false, nil
	}
	hit.Body = rec.Body
	return hit, true, nil
}

// CountRange implements store.Backend. Shards are counted concurrently.
func (b *Backend) CountRange(ctx context.Context, d store.Descriptor, lo, hi store.Value) (int64, error) {
	table := b.IndexTable(d.Name)
	from, to := keyRange(lo, hi)

	var total atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for _, pk := range shard.All(b.config.NumShards) {
		g.Go(func() error {
			input := rangeQuery(table, pk, from, to)
			input.Select = types.SelectCount
			for {
				if err := b.wait(ctx); err != nil {
					return err
				}
				result, err := b.client.Query(ctx, input)
				if err != nil {
					return mapError(table, err)
				}
				total.Add(int64(result.Count))
				if len(result.LastEvaluatedKey) == 0 {
					return nil
				}
				input.ExclusiveStartKey = result.LastEvaluatedKey
			}
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total.Load(), nil
}

// mapError translates DynamoDB errors into the store taxonomy.
func mapError(table string, err error) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: table %s", store.ErrNotInstalled, table)
	}
	return err
}
