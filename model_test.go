package dynarow

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelNewAppliesSchema(t *testing.T) {
	schema, err := NewSchema(FieldMap{
		"id":     {Type: FieldTypeString, Generate: "uuid"},
		"name":   {Type: FieldTypeString, Required: true},
		"status": {Type: FieldTypeString, Default: "new"},
	})
	require.NoError(t, err)
	tbl, err := NewTable(TableParams{
		Def:    TableDef{Name: "things", HashKey: "id"},
		Schema: schema,
		Client: &mockClient{},
		Logger: Discard,
	})
	require.NoError(t, err)

	inits := 0
	m := NewModel(tbl, &Hooks{PostInit: []HookFunc{func(context.Context, *Record) error {
		inits++
		return nil
	}}})

	rec, err := m.New(context.Background(), Item{"name": "widget"})
	require.NoError(t, err)
	assert.Len(t, rec.Get("id"), 36)
	assert.Equal(t, "new", rec.Get("status"))
	assert.False(t, rec.IsLoaded())
	assert.Equal(t, 1, inits)

	_, err = m.New(context.Background(), Item{})
	require.Error(t, err)
	assert.Equal(t, ErrValidation, CodeOf(err))
}

func TestModelPut(t *testing.T) {
	var captured *ddb.PutItemInput
	mock := &mockClient{putItem: func(in *ddb.PutItemInput) (*ddb.PutItemOutput, error) {
		captured = in
		return &ddb.PutItemOutput{}, nil
	}}
	m := NewModel(bookTable(t, mock), nil)

	rec, err := m.Put(context.Background(), Item{"isbn": "978", "title": "Dune"}, nil)
	require.NoError(t, err)
	assert.True(t, rec.IsLoaded())
	assert.NotNil(t, captured)
}

func TestModelPreSaveHookAborts(t *testing.T) {
	mock := &mockClient{}
	boom := errors.New("vetoed")
	m := NewModel(bookTable(t, mock), &Hooks{
		PreSave: []HookFunc{func(context.Context, *Record) error { return boom }},
	})

	_, err := m.Put(context.Background(), Item{"isbn": "978", "title": "Dune"}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, mock.calls)
}

func TestModelGetMissing(t *testing.T) {
	m := NewModel(bookTable(t, &mockClient{}), nil)
	rec, err := m.Get(context.Background(), Item{"isbn": "978", "title": "Dune"}, false)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestModelGetLoads(t *testing.T) {
	mock := &mockClient{getItem: func(in *ddb.GetItemInput) (*ddb.GetItemOutput, error) {
		return &ddb.GetItemOutput{Item: mustAV(t, Item{
			"isbn": "978", "title": "Dune", "bogus": "dropped",
		})}, nil
	}}
	m := NewModel(bookTable(t, mock), nil)

	rec, err := m.Get(context.Background(), Item{"isbn": "978", "title": "Dune"}, true)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsLoaded())
	assert.Equal(t, "Dune", rec.Get("title"))
	assert.Nil(t, rec.Get("bogus"))
}

func TestRecordPartialSaveSendsOnlyDirtyFields(t *testing.T) {
	var captured *ddb.UpdateItemInput
	mock := &mockClient{
		getItem: func(*ddb.GetItemInput) (*ddb.GetItemOutput, error) {
			return &ddb.GetItemOutput{Item: mustAV(t, Item{
				"isbn": "978", "title": "Dune", "author": "Herbert", "year": 1965,
			})}, nil
		},
		updateItem: func(in *ddb.UpdateItemInput) (*ddb.UpdateItemOutput, error) {
			captured = in
			return &ddb.UpdateItemOutput{Attributes: mustAV(t, Item{
				"isbn": "978", "title": "Dune", "author": "Herbert", "year": 1966,
			})}, nil
		},
	}
	m := NewModel(bookTable(t, mock), nil)

	rec, err := m.Get(context.Background(), Item{"isbn": "978", "title": "Dune"}, false)
	require.NoError(t, err)

	rec.Set("year", 1966)
	require.NoError(t, rec.Save(context.Background(), true, false))

	require.NotNil(t, captured)
	assert.Equal(t, "SET #uk_year = :uv_year", aws.ToString(captured.UpdateExpression))
	assert.NotContains(t, mock.calls, "PutItem")
	assert.EqualValues(t, 1966, rec.Get("year"))

	// a clean record saves nothing
	captured = nil
	require.NoError(t, rec.Save(context.Background(), true, false))
	assert.Nil(t, captured)
}

func TestRecordFullSavePuts(t *testing.T) {
	mock := &mockClient{}
	m := NewModel(bookTable(t, mock), nil)

	rec, err := m.New(context.Background(), Item{"isbn": "978", "title": "Dune"})
	require.NoError(t, err)
	require.NoError(t, rec.Save(context.Background(), false, false))
	assert.Equal(t, []string{"PutItem"}, mock.calls)

	// no snapshot yet means partial falls back to a full put
	rec2, err := m.New(context.Background(), Item{"isbn": "979", "title": "Messiah"})
	require.NoError(t, err)
	require.NoError(t, rec2.Save(context.Background(), true, false))
	assert.Equal(t, []string{"PutItem", "PutItem"}, mock.calls)
}

func TestRecordUpdateRefreshes(t *testing.T) {
	mock := &mockClient{updateItem: func(in *ddb.UpdateItemInput) (*ddb.UpdateItemOutput, error) {
		return &ddb.UpdateItemOutput{Attributes: mustAV(t, Item{
			"isbn": "978", "title": "Dune", "pages": 424,
		})}, nil
	}}
	m := NewModel(bookTable(t, mock), nil)

	rec, err := m.New(context.Background(), Item{"isbn": "978", "title": "Dune"})
	require.NoError(t, err)
	require.NoError(t, rec.Update(context.Background(), Item{"pages__plus": 12}, nil))
	assert.EqualValues(t, 424, rec.Get("pages"))
	assert.True(t, rec.IsLoaded())
}

func TestRecordDelete(t *testing.T) {
	var captured *ddb.DeleteItemInput
	mock := &mockClient{deleteItem: func(in *ddb.DeleteItemInput) (*ddb.DeleteItemOutput, error) {
		captured = in
		return &ddb.DeleteItemOutput{}, nil
	}}
	deleted := 0
	m := NewModel(bookTable(t, mock), &Hooks{
		PostDelete: []HookFunc{func(context.Context, *Record) error { deleted++; return nil }},
	})

	rec, err := m.New(context.Background(), Item{"isbn": "978", "title": "Dune"})
	require.NoError(t, err)
	require.NoError(t, rec.Delete(context.Background(), nil))
	assert.Equal(t, 1, deleted)
	assert.False(t, rec.IsLoaded())
	require.NotNil(t, captured)
	assert.Len(t, captured.Key, 2)
}

func TestModelRecordsIterator(t *testing.T) {
	mock, _ := pagedMock(t)
	m := NewModel(bookTable(t, mock), nil)

	recs, err := m.Records(m.Query(Item{"isbn": "1"}).Recursive()).All(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "a", recs[0].Get("title"))
	assert.True(t, recs[0].IsLoaded())
}

func TestModelPutBatch(t *testing.T) {
	mock := &mockClient{}
	m := NewModel(bookTable(t, mock), nil)

	recs, err := m.PutBatch(context.Background(), []Item{
		{"isbn": "1", "title": "a"},
		{"isbn": "2", "title": "b"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].IsLoaded())
	assert.Equal(t, []string{"BatchWriteItem"}, mock.calls)
}

func TestModelUpdateItem(t *testing.T) {
	mock := &mockClient{updateItem: func(in *ddb.UpdateItemInput) (*ddb.UpdateItemOutput, error) {
		return &ddb.UpdateItemOutput{Attributes: mustAV(t, Item{
			"isbn": "978", "title": "Dune", "year": 1966,
		})}, nil
	}}
	m := NewModel(bookTable(t, mock), nil)

	rec, err := m.UpdateItem(context.Background(),
		Item{"isbn": "978", "title": "Dune", "year": 1966}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1966, rec.Get("year"))
}
