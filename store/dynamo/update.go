package dynamo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/scarecrow/ident"
	"github.com/jacentio/scarecrow/internal/shard"
	"github.com/jacentio/scarecrow/store"
)

// maxTransactItems is DynamoDB's limit on actions per TransactWriteItems call.
const maxTransactItems = 100

var errNoEntity = errors.New("index write for an entity that is not stored")

type indexWrite struct {
	desc  store.Descriptor
	value *store.Value // nil clears
}

type tx struct {
	id      ident.ObjectID
	writes  []indexWrite
	put     bool
	del     bool
	body    []byte
	updated time.Time
}

func (t *tx) ID() ident.ObjectID { return t.id }

func (t *tx) ClearEntry(d store.Descriptor) {
	t.writes = append(t.writes, indexWrite{desc: d})
}

func (t *tx) PutEntry(d store.Descriptor, v store.Value) {
	t.writes = append(t.writes, indexWrite{desc: d, value: &v})
}

func (t *tx) Put(body []byte, updated time.Time) {
	t.put, t.del = true, false
	t.body = slices.Clone(body)
	t.updated = updated
}

func (t *tx) Delete() {
	t.put, t.del = false, true
	t.body = nil
}

// plan is the set of writes one Update sends to DynamoDB.
type plan struct {
	entity  *types.TransactWriteItem
	deletes []types.TransactWriteItem
	puts    []types.TransactWriteItem
}

func (p *plan) len() int {
	n := len(p.deletes) + len(p.puts)
	if p.entity != nil {
		n++
	}
	return n
}

// Update implements store.Backend. The entity is read first to learn its
// version and the keys of its current index rows; the write is conditioned
// on that version.
func (b *Backend) Update(ctx context.Context, id ident.ObjectID, fn func(store.Tx) error) error {
	t := &tx{id: id}
	if err := fn(t); err != nil {
		return err
	}

	old, err := b.getEntity(ctx, id)
	if err != nil {
		return err
	}
	p, err := b.plan(t, old)
	if err != nil {
		return err
	}
	if p.len() == 0 {
		return nil
	}

	if b.config.NonTransactional {
		return b.applySequential(ctx, id, p)
	}
	return b.applyTransaction(ctx, id, p)
}

// plan computes the final index keys of the entity and the writes that
// move it there from old.
func (b *Backend) plan(t *tx, old *EntityRecord) (*plan, error) {
	stamp := t.updated.UTC().Format(time.RFC3339Nano)
	oldKeys := map[string]IndexKey{}
	if old != nil {
		oldKeys = old.IndexKeys
		if !t.put {
			stamp = old.UpdatedAt
		}
	}

	newKeys := make(map[string]IndexKey, len(oldKeys))
	for name, k := range oldKeys {
		newKeys[name] = k
	}
	values := map[string]store.Value{}
	descs := map[string]store.Descriptor{}
	pk := shard.Key(t.id[:], b.config.NumShards)

	for _, w := range t.writes {
		descs[w.desc.Name] = w.desc
		if w.value == nil {
			delete(newKeys, w.desc.Name)
			delete(values, w.desc.Name)
			continue
		}
		sk, err := sortKey(*w.value, t.id)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", w.desc.Name, err)
		}
		newKeys[w.desc.Name] = IndexKey{PK: pk, SK: sk}
		values[w.desc.Name] = *w.value
	}
	if t.del {
		clear(newKeys)
		clear(values)
	}

	p := &plan{}

	// Rows to remove. A row that is rewritten under the same key becomes a
	// single put: a transaction may not touch one item twice.
	for name, k := range oldKeys {
		if nk, ok := newKeys[name]; ok && nk.PK == k.PK && bytes.Equal(nk.SK, k.SK) {
			continue
		}
		if _, touched := descs[name]; !touched && !t.del {
			continue
		}
		p.deletes = append(p.deletes, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(b.IndexTable(name)),
				Key:       indexKeyAttrs(k),
			},
		})
	}

	// Rows to write
	for name, v := range values {
		row, err := b.indexItem(newKeys[name], t.id, v, stamp)
		if err != nil {
			return nil, err
		}
		p.puts = append(p.puts, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(b.IndexTable(name)),
				Item:      row,
			},
		})
	}

	switch {
	case t.put:
		item, err := b.entityItem(t, old, newKeys, stamp)
		if err != nil {
			return nil, err
		}
		p.entity = &types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(b.config.EntityTable),
			Item:      item,
		}}
		guard(p.entity.Put, old)
	case t.del && old != nil:
		p.entity = &types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(b.config.EntityTable),
			Key:       entityKey(t.id),
		}}
		guard(p.entity.Delete, old)
	case !t.del && len(t.writes) > 0:
		if old == nil {
			return nil, errNoEntity
		}
		// Index-only change: rewrite the entity to record the new keys.
		item, err := b.entityItem(&tx{id: t.id, body: old.Body}, old, newKeys, stamp)
		if err != nil {
			return nil, err
		}
		p.entity = &types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(b.config.EntityTable),
			Item:      item,
		}}
		guard(p.entity.Put, old)
	}

	if n := p.len(); n > maxTransactItems {
		return nil, fmt.Errorf("update of %s needs %d writes, DynamoDB allows %d per transaction", t.id, n, maxTransactItems)
	}
	return p, nil
}

// guard conditions an entity write on the version that was read.
func guard(op any, old *EntityRecord) {
	cond := aws.String("attribute_not_exists(#id)")
	names := map[string]string{"#id": AttrID}
	var values map[string]types.AttributeValue
	if old != nil {
		cond = aws.String("#version = :version")
		names = map[string]string{"#version": AttrVersion}
		values = map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: strconv.FormatInt(old.Version, 10)},
		}
	}
	switch o := op.(type) {
	case *types.Put:
		o.ConditionExpression, o.ExpressionAttributeNames, o.ExpressionAttributeValues = cond, names, values
	case *types.Delete:
		o.ConditionExpression, o.ExpressionAttributeNames, o.ExpressionAttributeValues = cond, names, values
	}
}

func (b *Backend) entityItem(t *tx, old *EntityRecord, keys map[string]IndexKey, stamp string) (map[string]types.AttributeValue, error) {
	rec := EntityRecord{
		ID:        t.id.Bytes(),
		Body:      t.body,
		UpdatedAt: stamp,
		Version:   1,
		IndexKeys: keys,
	}
	if old != nil {
		rec.Version = old.Version + 1
	}
	if len(rec.IndexKeys) == 0 {
		rec.IndexKeys = nil
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal entity: %w", err)
	}
	return item, nil
}

func (b *Backend) indexItem(k IndexKey, id ident.ObjectID, v store.Value, stamp string) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(indexRecord{
		PK:        k.PK,
		SK:        k.SK,
		EntityID:  id.Bytes(),
		UpdatedAt: stamp,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal index row: %w", err)
	}
	native, err := nativeValue(v)
	if err != nil {
		return nil, fmt.Errorf("marshal index value: %w", err)
	}
	item[attrValue] = native
	return item, nil
}

func indexKeyAttrs(k IndexKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: k.PK},
		attrSK: &types.AttributeValueMemberB{Value: k.SK},
	}
}

func (b *Backend) applyTransaction(ctx context.Context, id ident.ObjectID, p *plan) error {
	items := make([]types.TransactWriteItem, 0, p.len())
	entityIndex := -1
	if p.entity != nil {
		entityIndex = len(items)
		items = append(items, *p.entity)
	}
	items = append(items, p.deletes...)
	items = append(items, p.puts...)

	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(id, err, entityIndex)
}

// applySequential writes the entity first, so its version check still
// rejects concurrent writers, then the index rows.
func (b *Backend) applySequential(ctx context.Context, id ident.ObjectID, p *plan) error {
	if p.entity != nil {
		if err := b.writeOne(ctx, *p.entity); err != nil {
			var cond *types.ConditionalCheckFailedException
			if errors.As(err, &cond) {
				return fmt.Errorf("%w: entity %s", store.ErrConcurrentModification, id)
			}
			return err
		}
	}
	for _, op := range append(slices.Clone(p.deletes), p.puts...) {
		if err := b.writeOne(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) writeOne(ctx context.Context, op types.TransactWriteItem) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	switch {
	case op.Put != nil:
		_, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 op.Put.TableName,
			Item:                      op.Put.Item,
			ConditionExpression:       op.Put.ConditionExpression,
			ExpressionAttributeNames:  op.Put.ExpressionAttributeNames,
			ExpressionAttributeValues: op.Put.ExpressionAttributeValues,
		})
		return mapError(aws.ToString(op.Put.TableName), err)
	case op.Delete != nil:
		_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 op.Delete.TableName,
			Key:                       op.Delete.Key,
			ConditionExpression:       op.Delete.ConditionExpression,
			ExpressionAttributeNames:  op.Delete.ExpressionAttributeNames,
			ExpressionAttributeValues: op.Delete.ExpressionAttributeValues,
		})
		return mapError(aws.ToString(op.Delete.TableName), err)
	}
	return nil
}

// mapTransactionError maps a cancelled transaction to the store taxonomy.
func mapTransactionError(id ident.ObjectID, err error, entityIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			code := aws.ToString(reason.Code)
			if (code == "ConditionalCheckFailed" && i == entityIndex) || code == "TransactionConflict" {
				return fmt.Errorf("%w: entity %s", store.ErrConcurrentModification, id)
			}
		}
	}
	return mapError("transaction", err)
}

// PurgeIndexEntries deletes the index rows listed in rec, which describes an
// entity that has already been removed from the entity table. A row is only
// deleted while it still carries rec's update stamp, so rows written by a
// later Set of the same id survive.
func (b *Backend) PurgeIndexEntries(ctx context.Context, rec EntityRecord) (int, error) {
	purged := 0
	for name, k := range rec.IndexKeys {
		if err := b.wait(ctx); err != nil {
			return purged, err
		}
		table := b.IndexTable(name)
		_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(table),
			Key:                 indexKeyAttrs(k),
			ConditionExpression: aws.String("#updated_at = :updated_at"),
			ExpressionAttributeNames: map[string]string{
				"#updated_at": AttrUpdatedAt,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":updated_at": &types.AttributeValueMemberS{Value: rec.UpdatedAt},
			},
		})
		var cond *types.ConditionalCheckFailedException
		switch {
		case errors.As(err, &cond):
			continue
		case err != nil:
			return purged, mapError(table, err)
		}
		purged++
	}
	return purged, nil
}
