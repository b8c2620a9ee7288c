/*
Package dynarow – condition expressions.

Q builds a composable boolean condition tree from a flat keyword map where
each key encodes attr[__nested...][__operator] and each value is the operand.
The tree renders into DynamoDB's native condition-expression grammar with
#_N / :_N placeholder tokens.
*/
package dynarow

import (
	"fmt"
	"sort"
	"strings"
)

// Operators understood by Q and by filter maps. The default when a key has no
// operator suffix is "eq".
var condOperators = map[string]bool{
	"eq": true, "ne": true, "lt": true, "lte": true, "gt": true, "gte": true,
	"between": true, "in": true, "exists": true, "not_exists": true,
	"type": true, "begins_with": true, "contains": true,
}

// KeyOperators are the operators DynamoDB accepts in a KeyConditionExpression.
var KeyOperators = map[string]bool{
	"eq": true, "lt": true, "lte": true, "gt": true, "gte": true,
	"between": true, "begins_with": true,
}

type condKind int

const (
	condLeaf condKind = iota
	condAnd
	condNot
)

// condNode is one node of the expression tree: a leaf holds an attribute
// path, an operator tag and its operands; composites hold sub-trees.
type condNode struct {
	kind condKind

	path     []string
	op       string
	operands []any

	left  *condNode
	right *condNode
}

// Cond is an immutable boolean condition expression. The zero Cond means
// "no condition" and callers use it to skip attaching any filter.
type Cond struct {
	node *condNode
}

// IsZero reports whether c carries no condition at all.
func (c Cond) IsZero() bool { return c.node == nil }

// And returns the conjunction of c and other. Combining with a zero Cond
// returns the other side unchanged.
func (c Cond) And(other Cond) Cond {
	if c.node == nil {
		return other
	}
	if other.node == nil {
		return c
	}
	return Cond{node: &condNode{kind: condAnd, left: c.node, right: other.node}}
}

// Not returns the logical negation of c. Negating a zero Cond is still zero.
func (c Cond) Not() Cond {
	if c.node == nil {
		return c
	}
	return Cond{node: &condNode{kind: condNot, left: c.node}}
}

// Q builds one composite condition from a flat keyword map. Every entry is
// combined with logical AND; since AND is commutative the enumeration order
// is not observable, but entries are processed in sorted key order so two
// equal maps always render identically. An empty map yields the zero Cond.
func Q(filters Item) (Cond, error) {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cond := Cond{}
	for _, key := range keys {
		path, op, err := parseFilterKey(key)
		if err != nil {
			return Cond{}, err
		}
		leaf, err := newLeaf(path, op, filters[key])
		if err != nil {
			return Cond{}, err
		}
		cond = cond.And(Cond{node: leaf})
	}
	return cond, nil
}

// MustQ is Q for statically-known filter maps; it panics on a build error.
func MustQ(filters Item) Cond {
	cond, err := Q(filters)
	if err != nil {
		panic(err)
	}
	return cond
}

// parseFilterKey splits "attr[__nested...][__op]" into an attribute path and
// an operator tag. Segments are resolved in two phases: a segment naming a
// known operator terminates the key; anything else is a further nesting
// level. This precedence is a contract — a field literally named like an
// operator cannot be addressed as a nested segment.
func parseFilterKey(key string) ([]string, string, error) {
	parts := strings.Split(key, "__")
	path := []string{parts[0]}
	op := "eq"

	rest := parts[1:]
	for len(rest) > 0 {
		if condOperators[rest[0]] {
			op = rest[0]
			rest = rest[1:]
			break
		}
		path = append(path, rest[0])
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return nil, "", NewArgError(fmt.Sprintf("left over segments after operator in filter key %q", key))
	}
	return path, op, nil
}

// newLeaf normalises the operand(s) for the operator's arity and returns a
// leaf node. A slice operand is unpacked positionally where the operator
// expects multiple operands; other arity mismatches are build-time errors.
func newLeaf(path []string, op string, value any) (*condNode, error) {
	if !condOperators[op] {
		return nil, NewError(fmt.Sprintf("unsupported operator %q", op), WithCode(ErrUnsupportedOperator))
	}

	leaf := &condNode{kind: condLeaf, path: path, op: op}

	switch op {
	case "exists", "not_exists":
		// boolean true is a convenience shorthand for "no operand"
		if value == nil || value == true {
			return leaf, nil
		}
		return nil, NewArgError(fmt.Sprintf("operator %q takes no operand, got %v", op, value))

	case "between":
		operands := toAnySlice(value)
		if len(operands) != 2 {
			return nil, NewArgError(fmt.Sprintf("operator \"between\" requires exactly 2 operands, got %v", value))
		}
		leaf.operands = operands
		return leaf, nil

	case "in":
		operands := toAnySlice(value)
		if len(operands) == 0 {
			return nil, NewArgError(fmt.Sprintf("operator \"in\" requires a non-empty list, got %v", value))
		}
		leaf.operands = operands
		return leaf, nil

	default:
		leaf.operands = []any{value}
		return leaf, nil
	}
}

// exprBuilder accumulates ExpressionAttributeNames / Values while rendering
// condition, key-condition, filter and projection expressions for one
// request. Names are deduplicated; string values too.
type exprBuilder struct {
	names     map[string]string // "#_0" → attribute name
	namesMap  map[string]int    // attribute name → index
	values    Item              // ":_0" → operand value
	valuesMap map[string]int    // string operand → index
	nindex    int
	vindex    int
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:     map[string]string{},
		namesMap:  map[string]int{},
		values:    Item{},
		valuesMap: map[string]int{},
	}
}

func (b *exprBuilder) addName(name string) string {
	if idx, ok := b.namesMap[name]; ok {
		return fmt.Sprintf("#_%d", idx)
	}
	idx := b.nindex
	b.nindex++
	b.names[fmt.Sprintf("#_%d", idx)] = name
	b.namesMap[name] = idx
	return fmt.Sprintf("#_%d", idx)
}

func (b *exprBuilder) addValue(value any) string {
	if s, ok := value.(string); ok {
		if idx, ok := b.valuesMap[s]; ok {
			return fmt.Sprintf(":_%d", idx)
		}
		idx := b.vindex
		b.vindex++
		b.values[fmt.Sprintf(":_%d", idx)] = value
		b.valuesMap[s] = idx
		return fmt.Sprintf(":_%d", idx)
	}
	idx := b.vindex
	b.vindex++
	b.values[fmt.Sprintf(":_%d", idx)] = value
	return fmt.Sprintf(":_%d", idx)
}

// target renders an attribute path into dotted placeholder references,
// e.g. ["address","zip"] → "#_0.#_1".
func (b *exprBuilder) target(path []string) string {
	refs := make([]string, len(path))
	for i, seg := range path {
		refs[i] = b.addName(seg)
	}
	return strings.Join(refs, ".")
}

// render turns a condition tree into expression text, registering its
// placeholder names and values on the builder.
func (b *exprBuilder) render(c Cond) (string, error) {
	if c.node == nil {
		return "", nil
	}
	return b.renderNode(c.node)
}

func (b *exprBuilder) renderNode(n *condNode) (string, error) {
	switch n.kind {
	case condAnd:
		left, err := b.renderNode(n.left)
		if err != nil {
			return "", err
		}
		right, err := b.renderNode(n.right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s) and (%s)", left, right), nil

	case condNot:
		sub, err := b.renderNode(n.left)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("not (%s)", sub), nil
	}

	target := b.target(n.path)
	switch n.op {
	case "eq":
		return fmt.Sprintf("%s = %s", target, b.addValue(n.operands[0])), nil
	case "ne":
		return fmt.Sprintf("%s <> %s", target, b.addValue(n.operands[0])), nil
	case "lt":
		return fmt.Sprintf("%s < %s", target, b.addValue(n.operands[0])), nil
	case "lte":
		return fmt.Sprintf("%s <= %s", target, b.addValue(n.operands[0])), nil
	case "gt":
		return fmt.Sprintf("%s > %s", target, b.addValue(n.operands[0])), nil
	case "gte":
		return fmt.Sprintf("%s >= %s", target, b.addValue(n.operands[0])), nil
	case "between":
		return fmt.Sprintf("%s BETWEEN %s AND %s",
			target, b.addValue(n.operands[0]), b.addValue(n.operands[1])), nil
	case "in":
		refs := make([]string, len(n.operands))
		for i, v := range n.operands {
			refs[i] = b.addValue(v)
		}
		return fmt.Sprintf("%s IN (%s)", target, strings.Join(refs, ", ")), nil
	case "exists":
		return fmt.Sprintf("attribute_exists(%s)", target), nil
	case "not_exists":
		return fmt.Sprintf("attribute_not_exists(%s)", target), nil
	case "type":
		return fmt.Sprintf("attribute_type(%s, %s)", target, b.addValue(n.operands[0])), nil
	case "begins_with":
		return fmt.Sprintf("begins_with(%s, %s)", target, b.addValue(n.operands[0])), nil
	case "contains":
		return fmt.Sprintf("contains(%s, %s)", target, b.addValue(n.operands[0])), nil
	}
	return "", NewError(fmt.Sprintf("unsupported operator %q", n.op), WithCode(ErrUnsupportedOperator))
}

// renderKey renders one key-condition entry. Key conditions allow only the
// restricted operator set and no nested paths.
func (b *exprBuilder) renderKey(attr, op string, value any) (string, error) {
	if !KeyOperators[op] {
		return "", NewError(fmt.Sprintf("operator %q is not valid in a key condition", op),
			WithCode(ErrUnsupportedOperator))
	}
	leaf, err := newLeaf([]string{attr}, op, value)
	if err != nil {
		return "", err
	}
	return b.renderNode(leaf)
}

// toAnySlice converts any slice-typed value to []any; scalars yield nil.
func toAnySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	case []int:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	case []float64:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	}
	return nil
}
