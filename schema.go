/*
Package dynarow – document schema.

A schema is the validator capability consumed by tables and models: it
cleans and type-checks raw mappings and reports the DynamoDB storage type of
each field. NewSchema builds the concrete implementation from a declarative
field map; any other implementation of Validator may be supplied instead.
*/
package dynarow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cloudrow/dynarow/internal/uid"
)

// Item is one logical record: field name → value.
type Item = map[string]any

// Validator is the schema capability consumed by Table and Model.
type Validator interface {
	// Validate returns a cleaned copy of raw or a ValidationError. With
	// partial set, missing fields are not an error and no defaults are
	// applied. With native set, values are returned in Go-native form
	// (e.g. time.Time for dates); otherwise in storage-ready form.
	Validate(raw Item, partial bool, native bool) (Item, error)

	// FieldType returns the DynamoDB storage type tag ("S", "N", "B",
	// "BOOL", "L", "M") for a field, and whether the field exists.
	FieldType(name string) (string, bool)

	// Fields returns the known field names in sorted order.
	Fields() []string
}

// FieldType names the logical type of a schema field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeBinary  FieldType = "binary"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
)

var storageTags = map[FieldType]string{
	FieldTypeString:  "S",
	FieldTypeNumber:  "N",
	FieldTypeBoolean: "BOOL",
	FieldTypeDate:    "S",
	FieldTypeBinary:  "B",
	FieldTypeArray:   "L",
	FieldTypeObject:  "M",
}

// FieldDef is a single field definition inside a schema.
type FieldDef struct {
	Type     FieldType
	Required bool
	Default  any
	Generate string   // "uuid" | "ulid" | "uid" | "uid(n)"
	Validate string   // "/regex/" or a literal the value must equal
	Enum     []string // allowed values for string fields
	Schema   FieldMap // nested schema for object fields
}

// FieldMap is a map of field name → definition.
type FieldMap map[string]*FieldDef

// Schema is the concrete Validator built from a FieldMap.
type Schema struct {
	fields   FieldMap
	names    []string
	patterns map[string]*regexp.Regexp
	nested   map[string]*Schema
}

// NewSchema prepares a Schema from a declarative field map. Field types and
// validation patterns are checked eagerly so later calls cannot fail on a
// malformed definition.
func NewSchema(fields FieldMap) (*Schema, error) {
	s := &Schema{
		fields:   fields,
		patterns: map[string]*regexp.Regexp{},
		nested:   map[string]*Schema{},
	}
	for name, def := range fields {
		if def == nil {
			return nil, NewArgError(fmt.Sprintf("field %q has no definition", name))
		}
		if _, ok := storageTags[def.Type]; !ok {
			return nil, NewArgError(fmt.Sprintf("field %q has unknown type %q", name, def.Type))
		}
		if pat, ok := regexPattern(def.Validate); ok {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, NewArgError(fmt.Sprintf("field %q has invalid validation pattern: %v", name, err))
			}
			s.patterns[name] = re
		}
		if def.Type == FieldTypeObject && def.Schema != nil {
			sub, err := NewSchema(def.Schema)
			if err != nil {
				return nil, err
			}
			s.nested[name] = sub
		}
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

func regexPattern(v string) (string, bool) {
	if len(v) >= 2 && strings.HasPrefix(v, "/") && strings.HasSuffix(v, "/") {
		return v[1 : len(v)-1], true
	}
	return "", false
}

// Fields returns the known field names in sorted order.
func (s *Schema) Fields() []string { return s.names }

// FieldType returns the storage type tag for a field.
func (s *Schema) FieldType(name string) (string, bool) {
	def, ok := s.fields[name]
	if !ok {
		return "", false
	}
	return storageTags[def.Type], true
}

// Validate cleans raw against the schema. Unknown fields are dropped.
func (s *Schema) Validate(raw Item, partial bool, native bool) (Item, error) {
	cleaned := Item{}
	for _, name := range s.names {
		def := s.fields[name]
		value, present := raw[name]

		if !present || value == nil {
			if partial {
				continue
			}
			if def.Default != nil {
				cleaned[name] = def.Default
				continue
			}
			if def.Generate != "" {
				cleaned[name] = generateID(def.Generate)
				continue
			}
			if def.Required {
				return nil, NewError(fmt.Sprintf("missing required field %q", name),
					WithCode(ErrValidation))
			}
			continue
		}

		coerced, err := s.coerce(name, def, value, partial, native)
		if err != nil {
			return nil, err
		}
		cleaned[name] = coerced
	}
	return cleaned, nil
}

func (s *Schema) coerce(name string, def *FieldDef, value any, partial, native bool) (any, error) {
	badType := func() error {
		return NewError(fmt.Sprintf("field %q expects type %q, got %T", name, def.Type, value),
			WithCode(ErrValidation))
	}

	switch def.Type {
	case FieldTypeString:
		str, ok := value.(string)
		if !ok {
			return nil, badType()
		}
		if re, ok := s.patterns[name]; ok {
			if !re.MatchString(str) {
				return nil, NewError(fmt.Sprintf("field %q value %q fails validation", name, str),
					WithCode(ErrValidation))
			}
		} else if def.Validate != "" && str != def.Validate {
			return nil, NewError(fmt.Sprintf("field %q must equal %q", name, def.Validate),
				WithCode(ErrValidation))
		}
		if len(def.Enum) > 0 && !containsStr(def.Enum, str) {
			return nil, NewError(fmt.Sprintf("field %q value %q not in enum %v", name, str, def.Enum),
				WithCode(ErrValidation))
		}
		return str, nil

	case FieldTypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return value, nil
		}
		return nil, badType()

	case FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return nil, badType()
		}
		return value, nil

	case FieldTypeDate:
		switch v := value.(type) {
		case time.Time:
			if native {
				return v, nil
			}
			return v.UTC().Format(time.RFC3339), nil
		case string:
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, NewError(fmt.Sprintf("field %q is not an RFC3339 date: %v", name, err),
					WithCode(ErrValidation))
			}
			if native {
				return ts, nil
			}
			return v, nil
		}
		return nil, badType()

	case FieldTypeBinary:
		if _, ok := value.([]byte); !ok {
			return nil, badType()
		}
		return value, nil

	case FieldTypeArray:
		if arr := toAnySlice(value); arr != nil {
			return arr, nil
		}
		return nil, badType()

	case FieldTypeObject:
		sub, ok := value.(map[string]any)
		if !ok {
			return nil, badType()
		}
		if nested, ok := s.nested[name]; ok {
			return nested.Validate(sub, partial, native)
		}
		return sub, nil
	}
	return nil, badType()
}

func generateID(gen string) string {
	switch gen {
	case "uuid":
		return uid.UUID()
	case "ulid":
		return uid.New().String()
	case "uid":
		return uid.UID(10)
	}
	if strings.HasPrefix(gen, "uid(") {
		n := 10
		fmt.Sscanf(gen, "uid(%d)", &n)
		return uid.UID(n)
	}
	return uid.UUID()
}

func containsStr(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// hasField reports whether a validator knows the given field name.
func hasField(v Validator, name string) bool {
	_, ok := v.FieldType(name)
	return ok
}
