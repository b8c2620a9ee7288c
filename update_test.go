package dynarow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdatePlainSet(t *testing.T) {
	u, err := buildUpdate(bookSchema(t), "isbn", "title", Item{
		"isbn":  "978",
		"title": "Dune",
		"year":  1965,
	})
	require.NoError(t, err)

	assert.Equal(t, Item{"isbn": "978", "title": "Dune"}, u.key)
	assert.Equal(t, "SET #uk_year = :uv_year", u.expression)
	assert.Equal(t, map[string]string{"#uk_year": "year"}, u.names)
	assert.Equal(t, Item{":uv_year": 1965}, u.values)
}

func TestBuildUpdateFunctionSuffixes(t *testing.T) {
	u, err := buildUpdate(bookSchema(t), "isbn", "title", Item{
		"isbn":                  "978",
		"title":                 "Dune",
		"tags__append":          []string{"scifi"},
		"pages__plus":           12,
		"year__minus":           1,
		"author__if_not_exists": "Herbert",
	})
	require.NoError(t, err)

	assert.Equal(t, "SET "+
		"#uk_author = if_not_exists(#uk_author, :uv_author), "+
		"#uk_pages = #uk_pages + :uv_pages, "+
		"#uk_tags = list_append(#uk_tags, :uv_tags), "+
		"#uk_year = #uk_year - :uv_year",
		u.expression)
	assert.Equal(t, Item{
		":uv_author": "Herbert",
		":uv_pages":  12,
		":uv_tags":   []string{"scifi"},
		":uv_year":   1,
	}, u.values)
}

func TestBuildUpdateExplicitSetSuffix(t *testing.T) {
	u, err := buildUpdate(bookSchema(t), "isbn", "title", Item{
		"isbn": "978", "title": "Dune", "year__set": 1966,
	})
	require.NoError(t, err)
	assert.Equal(t, "SET #uk_year = :uv_year", u.expression)
}

func TestBuildUpdateUnknownField(t *testing.T) {
	_, err := buildUpdate(bookSchema(t), "isbn", "title", Item{
		"isbn": "978", "title": "Dune", "bogus": 1,
	})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidSchemaField, CodeOf(err))
}

func TestBuildUpdateUnknownFunction(t *testing.T) {
	_, err := buildUpdate(bookSchema(t), "isbn", "title", Item{
		"isbn": "978", "title": "Dune", "year__times": 2,
	})
	require.Error(t, err)
	assert.Equal(t, ErrUnsupportedOperator, CodeOf(err))
}

func TestBuildUpdateKeysOnly(t *testing.T) {
	u, err := buildUpdate(bookSchema(t), "isbn", "title", Item{
		"isbn": "978", "title": "Dune",
	})
	require.NoError(t, err)
	assert.Empty(t, u.expression)
	assert.Empty(t, u.values)
}

func TestToCondForms(t *testing.T) {
	c, err := toCond(nil)
	require.NoError(t, err)
	assert.True(t, c.IsZero())

	c, err = toCond(Item{"year__gt": 1960})
	require.NoError(t, err)
	assert.False(t, c.IsZero())

	direct := MustQ(Item{"author": "Herbert"})
	c, err = toCond(direct)
	require.NoError(t, err)
	assert.Equal(t, direct, c)

	c, err = toCond([]Cond{direct, MustQ(Item{"year__gt": 1960})})
	require.NoError(t, err)
	expr, _, _ := render(t, c)
	assert.Equal(t, "(#_0 = :_0) and (#_1 > :_1)", expr)

	_, err = toCond(42)
	require.Error(t, err)
	assert.Equal(t, ErrArgument, CodeOf(err))
}
