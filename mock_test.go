package dynarow

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// mockClient implements DynamoClient through optional function fields.
// Unset operations return empty outputs, so each test scripts only the
// calls it cares about.
type mockClient struct {
	getItem        func(*ddb.GetItemInput) (*ddb.GetItemOutput, error)
	putItem        func(*ddb.PutItemInput) (*ddb.PutItemOutput, error)
	updateItem     func(*ddb.UpdateItemInput) (*ddb.UpdateItemOutput, error)
	deleteItem     func(*ddb.DeleteItemInput) (*ddb.DeleteItemOutput, error)
	query          func(*ddb.QueryInput) (*ddb.QueryOutput, error)
	scan           func(*ddb.ScanInput) (*ddb.ScanOutput, error)
	batchGetItem   func(*ddb.BatchGetItemInput) (*ddb.BatchGetItemOutput, error)
	batchWriteItem func(*ddb.BatchWriteItemInput) (*ddb.BatchWriteItemOutput, error)
	createTable    func(*ddb.CreateTableInput) (*ddb.CreateTableOutput, error)
	updateTable    func(*ddb.UpdateTableInput) (*ddb.UpdateTableOutput, error)
	deleteTable    func(*ddb.DeleteTableInput) (*ddb.DeleteTableOutput, error)
	describeTable  func(*ddb.DescribeTableInput) (*ddb.DescribeTableOutput, error)

	calls []string
}

func (m *mockClient) GetItem(ctx context.Context, in *ddb.GetItemInput, _ ...func(*ddb.Options)) (*ddb.GetItemOutput, error) {
	m.calls = append(m.calls, "GetItem")
	if m.getItem != nil {
		return m.getItem(in)
	}
	return &ddb.GetItemOutput{}, nil
}

func (m *mockClient) PutItem(ctx context.Context, in *ddb.PutItemInput, _ ...func(*ddb.Options)) (*ddb.PutItemOutput, error) {
	m.calls = append(m.calls, "PutItem")
	if m.putItem != nil {
		return m.putItem(in)
	}
	return &ddb.PutItemOutput{}, nil
}

func (m *mockClient) UpdateItem(ctx context.Context, in *ddb.UpdateItemInput, _ ...func(*ddb.Options)) (*ddb.UpdateItemOutput, error) {
	m.calls = append(m.calls, "UpdateItem")
	if m.updateItem != nil {
		return m.updateItem(in)
	}
	return &ddb.UpdateItemOutput{}, nil
}

func (m *mockClient) DeleteItem(ctx context.Context, in *ddb.DeleteItemInput, _ ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error) {
	m.calls = append(m.calls, "DeleteItem")
	if m.deleteItem != nil {
		return m.deleteItem(in)
	}
	return &ddb.DeleteItemOutput{}, nil
}

func (m *mockClient) Query(ctx context.Context, in *ddb.QueryInput, _ ...func(*ddb.Options)) (*ddb.QueryOutput, error) {
	m.calls = append(m.calls, "Query")
	if m.query != nil {
		return m.query(in)
	}
	return &ddb.QueryOutput{}, nil
}

func (m *mockClient) Scan(ctx context.Context, in *ddb.ScanInput, _ ...func(*ddb.Options)) (*ddb.ScanOutput, error) {
	m.calls = append(m.calls, "Scan")
	if m.scan != nil {
		return m.scan(in)
	}
	return &ddb.ScanOutput{}, nil
}

func (m *mockClient) BatchGetItem(ctx context.Context, in *ddb.BatchGetItemInput, _ ...func(*ddb.Options)) (*ddb.BatchGetItemOutput, error) {
	m.calls = append(m.calls, "BatchGetItem")
	if m.batchGetItem != nil {
		return m.batchGetItem(in)
	}
	return &ddb.BatchGetItemOutput{}, nil
}

func (m *mockClient) BatchWriteItem(ctx context.Context, in *ddb.BatchWriteItemInput, _ ...func(*ddb.Options)) (*ddb.BatchWriteItemOutput, error) {
	m.calls = append(m.calls, "BatchWriteItem")
	if m.batchWriteItem != nil {
		return m.batchWriteItem(in)
	}
	return &ddb.BatchWriteItemOutput{}, nil
}

func (m *mockClient) CreateTable(ctx context.Context, in *ddb.CreateTableInput, _ ...func(*ddb.Options)) (*ddb.CreateTableOutput, error) {
	m.calls = append(m.calls, "CreateTable")
	if m.createTable != nil {
		return m.createTable(in)
	}
	return &ddb.CreateTableOutput{}, nil
}

func (m *mockClient) UpdateTable(ctx context.Context, in *ddb.UpdateTableInput, _ ...func(*ddb.Options)) (*ddb.UpdateTableOutput, error) {
	m.calls = append(m.calls, "UpdateTable")
	if m.updateTable != nil {
		return m.updateTable(in)
	}
	return &ddb.UpdateTableOutput{}, nil
}

func (m *mockClient) DeleteTable(ctx context.Context, in *ddb.DeleteTableInput, _ ...func(*ddb.Options)) (*ddb.DeleteTableOutput, error) {
	m.calls = append(m.calls, "DeleteTable")
	if m.deleteTable != nil {
		return m.deleteTable(in)
	}
	return &ddb.DeleteTableOutput{}, nil
}

func (m *mockClient) DescribeTable(ctx context.Context, in *ddb.DescribeTableInput, _ ...func(*ddb.Options)) (*ddb.DescribeTableOutput, error) {
	m.calls = append(m.calls, "DescribeTable")
	if m.describeTable != nil {
		return m.describeTable(in)
	}
	return &ddb.DescribeTableOutput{}, nil
}

// ─── fixtures ─────────────────────────────────────────────────────────────────

func bookSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(FieldMap{
		"isbn":   {Type: FieldTypeString, Required: true},
		"title":  {Type: FieldTypeString, Required: true},
		"author": {Type: FieldTypeString},
		"year":   {Type: FieldTypeNumber},
		"pages":  {Type: FieldTypeNumber},
		"tags":   {Type: FieldTypeArray},
		"meta": {Type: FieldTypeObject, Schema: FieldMap{
			"publisher": {Type: FieldTypeString},
			"edition":   {Type: FieldTypeNumber},
		}},
	})
	require.NoError(t, err)
	return s
}

func bookTable(t *testing.T, client DynamoClient) *Table {
	t.Helper()
	tbl, err := NewTable(TableParams{
		Def: TableDef{
			Name:     "books",
			HashKey:  "isbn",
			RangeKey: "title",
			Indexes: []IndexDef{
				{Name: "by-author", Kind: GlobalIndex, HashKey: "author", RangeKey: "year"},
			},
		},
		Schema: bookSchema(t),
		Client: client,
		Logger: Discard,
	})
	require.NoError(t, err)
	return tbl
}

func mustAV(t *testing.T, item Item) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(item)
	require.NoError(t, err)
	return av
}
