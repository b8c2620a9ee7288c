/*
Package dynarow – update expression compiler.

Converts field=value assignments (with an optional __function suffix) plus
the key fields into DynamoDB's UpdateExpression grammar. Placeholder tokens
are keyed by field name, which is collision-free since field names are
unique per table.
*/
package dynarow

import (
	"fmt"
	"sort"
	"strings"
)

// updateFunctions maps the per-field suffix to its SET fragment template.
// The empty suffix is a plain assignment.
var updateFunctions = map[string]string{
	"append":        "#uk_%[1]s = list_append(#uk_%[1]s, :uv_%[1]s)",
	"plus":          "#uk_%[1]s = #uk_%[1]s + :uv_%[1]s",
	"minus":         "#uk_%[1]s = #uk_%[1]s - :uv_%[1]s",
	"if_not_exists": "#uk_%[1]s = if_not_exists(#uk_%[1]s, :uv_%[1]s)",
	"set":           "#uk_%[1]s = :uv_%[1]s",
	"":              "#uk_%[1]s = :uv_%[1]s",
}

// updateExpr is a compiled update: the key map plus the SET expression and
// its placeholder names/values.
type updateExpr struct {
	key        Item
	expression string
	names      map[string]string
	values     Item
}

// buildUpdate splits updates into key fields (which become the update
// target, and may not themselves be mutated) and SET fragments for the
// rest. Referencing a field absent from the schema fails before dispatch.
func buildUpdate(schema Validator, hashKey, rangeKey string, updates Item) (*updateExpr, error) {
	u := &updateExpr{
		key:    Item{},
		names:  map[string]string{},
		values: Item{},
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fragments []string
	for _, full := range keys {
		field, fn, _ := strings.Cut(full, "__")

		template, ok := updateFunctions[fn]
		if !ok {
			return nil, NewError(fmt.Sprintf("unsupported update function %q", fn),
				WithCode(ErrUnsupportedOperator))
		}
		if !hasField(schema, field) {
			return nil, NewError(fmt.Sprintf("%q does not exist in the schema fields", field),
				WithCode(ErrInvalidSchemaField))
		}

		value := updates[full]
		if field == hashKey || field == rangeKey {
			u.key[field] = value
			continue
		}

		fragments = append(fragments, fmt.Sprintf(template, field))
		u.names["#uk_"+field] = field
		u.values[":uv_"+field] = value
	}

	if len(fragments) > 0 {
		u.expression = "SET " + strings.Join(fragments, ", ")
	}
	return u, nil
}

// toCond normalises the accepted condition forms: nil, an Item (keyword
// map), a Cond, or a []Cond AND-joined.
func toCond(conditions any) (Cond, error) {
	switch c := conditions.(type) {
	case nil:
		return Cond{}, nil
	case Cond:
		return c, nil
	case Item:
		return Q(c)
	case []Cond:
		out := Cond{}
		for _, one := range c {
			out = out.And(one)
		}
		return out, nil
	}
	return Cond{}, NewArgError(fmt.Sprintf("unsupported conditions type %T", conditions))
}
