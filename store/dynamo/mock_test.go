package dynamo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

type mockTable struct {
	hash     string
	rangeKey string
	items    map[string]item
}

// mockDDBClient is an in-memory DynamoDB mock for testing. It understands the
// key schemas and the handful of expressions the backend sends.
type mockDDBClient struct {
	mu     sync.Mutex
	tables map[string]*mockTable
	calls  map[string]int

	// beforeWrite runs at the start of every write call, outside the lock.
	beforeWrite func()
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		tables: make(map[string]*mockTable),
		calls:  make(map[string]int),
	}
}

func avKey(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	case *types.AttributeValueMemberB:
		return "B:" + string(v.Value)
	}
	return fmt.Sprintf("%#v", av)
}

func (t *mockTable) key(it item) string {
	k := avKey(it[t.hash])
	if t.rangeKey != "" {
		k += "|" + avKey(it[t.rangeKey])
	}
	return k
}

func (t *mockTable) sorted() []item {
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]item, len(keys))
	for i, k := range keys {
		out[i] = t.items[k]
	}
	return out
}

func (m *mockDDBClient) table(name *string) (*mockTable, error) {
	t, ok := m.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

// condition evaluates the expressions used by the backend.
func condition(existing item, expr *string, names map[string]string, values map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	e := *expr
	if inner, ok := strings.CutPrefix(e, "attribute_not_exists("); ok {
		attr := names[strings.TrimSuffix(inner, ")")]
		_, present := existing[attr]
		return !present
	}
	lhs, rhs, ok := strings.Cut(e, " = ")
	if !ok {
		panic("mock: unsupported condition " + e)
	}
	got, present := existing[names[lhs]]
	return present && avKey(got) == avKey(values[rhs])
}

func (m *mockDDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetItem"]++

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if it, ok := t.items[t.key(params.Key)]; ok {
		return &dynamodb.GetItemOutput{Item: it}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.hook()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["PutItem"]++

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k := t.key(params.Item)
	if !condition(t.items[k], params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	t.items[k] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.hook()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["DeleteItem"]++

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k := t.key(params.Key)
	if !condition(t.items[k], params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	delete(t.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Query"]++

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if aws.ToString(params.KeyConditionExpression) != "#pk = :pk AND #sk BETWEEN :from AND :to" {
		panic("mock: unsupported key condition")
	}
	pk := params.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	from := params.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberB).Value
	to := params.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberB).Value

	var matched []item
	for _, it := range t.items {
		sk := it[attrSK].(*types.AttributeValueMemberB).Value
		if it[attrPK].(*types.AttributeValueMemberS).Value == pk && bytes.Compare(sk, from) >= 0 && bytes.Compare(sk, to) <= 0 {
			matched = append(matched, it)
		}
	}
	slices.SortFunc(matched, func(x, y item) int {
		return bytes.Compare(x[attrSK].(*types.AttributeValueMemberB).Value, y[attrSK].(*types.AttributeValueMemberB).Value)
	})
	if start := params.ExclusiveStartKey; start != nil {
		after := start[attrSK].(*types.AttributeValueMemberB).Value
		matched = slices.DeleteFunc(matched, func(it item) bool {
			return bytes.Compare(it[attrSK].(*types.AttributeValueMemberB).Value, after) <= 0
		})
	}

	out := &dynamodb.QueryOutput{}
	if params.Limit != nil && int(*params.Limit) < len(matched) {
		matched = matched[:*params.Limit]
		last := matched[len(matched)-1]
		out.LastEvaluatedKey = item{attrPK: last[attrPK], attrSK: last[attrSK]}
	}
	out.Count = int32(len(matched))
	if params.Select != types.SelectCount {
		out.Items = matched
	}
	return out, nil
}

func (m *mockDDBClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Scan"]++

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	all := t.sorted()
	if start := params.ExclusiveStartKey; start != nil {
		after := t.key(start)
		all = slices.DeleteFunc(all, func(it item) bool { return t.key(it) <= after })
	}

	out := &dynamodb.ScanOutput{}
	if params.Limit != nil && int(*params.Limit) < len(all) {
		all = all[:*params.Limit]
		last := all[len(all)-1]
		out.LastEvaluatedKey = item{t.hash: last[t.hash]}
	}
	out.Count = int32(len(all))
	if params.Select != types.SelectCount {
		out.Items = all
	}
	return out, nil
}

func (m *mockDDBClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.hook()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["TransactWriteItems"]++

	if len(params.TransactItems) > maxTransactItems {
		return nil, errors.New("mock: too many transact items")
	}

	type op struct {
		t   *mockTable
		key string
		put item
	}
	ops := make([]op, len(params.TransactItems))
	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false

	for i, ti := range params.TransactItems {
		var (
			tableName *string
			keyItem   item
			expr      *string
			names     map[string]string
			values    map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			tableName, keyItem = ti.Put.TableName, ti.Put.Item
			expr, names, values = ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Delete != nil:
			tableName, keyItem = ti.Delete.TableName, ti.Delete.Key
			expr, names, values = ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		default:
			panic("mock: unsupported transact item")
		}

		t, err := m.table(tableName)
		if err != nil {
			return nil, err
		}
		k := t.key(keyItem)
		if seen[aws.ToString(tableName)+"/"+k] {
			return nil, errors.New("mock: transaction touches one item twice")
		}
		seen[aws.ToString(tableName)+"/"+k] = true

		ops[i] = op{t: t, key: k}
		if ti.Put != nil {
			ops[i].put = ti.Put.Item
		}
		reasons[i].Code = aws.String("None")
		if !condition(t.items[k], expr, names, values) {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, o := range ops {
		if o.put != nil {
			o.t.items[o.key] = o.put
		} else {
			delete(o.t.items, o.key)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (m *mockDDBClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateTable"]++

	name := aws.ToString(params.TableName)
	if _, ok := m.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	t := &mockTable{items: make(map[string]item)}
	for _, ks := range params.KeySchema {
		if ks.KeyType == types.KeyTypeHash {
			t.hash = aws.ToString(ks.AttributeName)
		} else {
			t.rangeKey = aws.ToString(ks.AttributeName)
		}
	}
	m.tables[name] = t
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockDDBClient) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["DeleteTable"]++

	if _, err := m.table(params.TableName); err != nil {
		return nil, err
	}
	delete(m.tables, aws.ToString(params.TableName))
	return &dynamodb.DeleteTableOutput{}, nil
}

func (m *mockDDBClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.table(params.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   params.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

// hook runs beforeWrite once and clears it.
func (m *mockDDBClient) hook() {
	if fn := m.beforeWrite; fn != nil {
		m.beforeWrite = nil
		fn()
	}
}

func (m *mockDDBClient) rows(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[table]; ok {
		return len(t.items)
	}
	return -1
}

func (m *mockDDBClient) count(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[call]
}
