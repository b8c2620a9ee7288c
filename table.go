/*
Package dynarow – Table type.

Table is the facade over one DynamoDB table: it validates the declarative
table definition at construction, derives the wire-level DDL structures from
it, and carries every item operation (put, get, update, delete, query, scan,
batch).
*/
package dynarow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// StreamView selects which item images a table stream carries.
type StreamView string

const (
	StreamNewImage       StreamView = "NEW_IMAGE"
	StreamOldImage       StreamView = "OLD_IMAGE"
	StreamNewAndOldImage StreamView = "NEW_AND_OLD_IMAGES"
	StreamKeysOnly       StreamView = "KEYS_ONLY"
)

var validStreamViews = map[StreamView]bool{
	StreamNewImage: true, StreamOldImage: true,
	StreamNewAndOldImage: true, StreamKeysOnly: true,
}

// ProjectionKind selects which attributes a secondary index carries.
type ProjectionKind string

const (
	ProjectAll      ProjectionKind = "ALL"
	ProjectKeysOnly ProjectionKind = "KEYS_ONLY"
	ProjectInclude  ProjectionKind = "INCLUDE"
)

// IndexKind distinguishes local from global secondary indexes.
type IndexKind int

const (
	GlobalIndex IndexKind = iota
	LocalIndex
)

// IndexDef declares one secondary index. A local index always shares the
// table's hash key; its HashKey field is ignored.
type IndexDef struct {
	Name         string
	HashKey      string
	RangeKey     string
	Kind         IndexKind
	Projection   ProjectionKind // empty → ALL
	IncludeAttrs []string       // for ProjectInclude
	Read         int64
	Write        int64
}

// TableDef declares one DynamoDB table. Read/Write of zero means on-demand
// billing. Stream of "" means no stream.
type TableDef struct {
	Name     string
	HashKey  string
	RangeKey string
	Read     int64
	Write    int64
	Stream   StreamView
	Indexes  []IndexDef
}

// TableParams configures a Table.
type TableParams struct {
	Def     TableDef
	Schema  Validator
	Client  DynamoClient // nil → resolved lazily from ambient AWS config
	Logger  Logger       // nil → default (info and up)
	Verbose bool         // true → also log trace lines
}

// Table wraps one DynamoDB table with typed operations.
type Table struct {
	def    TableDef
	schema Validator
	log    Logger

	client     DynamoClient
	clientOnce sync.Once
	clientErr  error
}

// NewTable validates the definition and returns the table facade. No store
// call is made; the client is resolved on first use when not supplied.
func NewTable(params TableParams) (*Table, error) {
	def := params.Def
	if def.Name == "" {
		return nil, NewError(`missing required attribute "Name"`, WithCode(ErrMissingTableAttribute))
	}
	if def.HashKey == "" {
		return nil, NewError(`missing required attribute "HashKey"`, WithCode(ErrMissingTableAttribute))
	}
	if params.Schema == nil {
		return nil, NewError(`missing required attribute "Schema"`, WithCode(ErrMissingTableAttribute))
	}
	if !hasField(params.Schema, def.HashKey) {
		return nil, NewError(fmt.Sprintf("hash key %q does not exist in the schema fields", def.HashKey),
			WithCode(ErrInvalidSchemaField))
	}
	if def.RangeKey != "" && !hasField(params.Schema, def.RangeKey) {
		return nil, NewError(fmt.Sprintf("range key %q does not exist in the schema fields", def.RangeKey),
			WithCode(ErrInvalidSchemaField))
	}
	if def.Stream != "" && !validStreamViews[def.Stream] {
		return nil, NewArgError(fmt.Sprintf("invalid stream view %q", def.Stream))
	}
	seen := map[string]bool{}
	for _, idx := range def.Indexes {
		if idx.Name == "" {
			return nil, NewError(`missing required attribute "Name" on index`, WithCode(ErrMissingTableAttribute))
		}
		if seen[idx.Name] {
			return nil, NewArgError(fmt.Sprintf("duplicate index name %q", idx.Name))
		}
		seen[idx.Name] = true
		if idx.Kind == GlobalIndex && idx.HashKey == "" {
			return nil, NewError(fmt.Sprintf(`missing required attribute "HashKey" on index %q`, idx.Name),
				WithCode(ErrMissingTableAttribute))
		}
		if idx.Kind == LocalIndex && idx.RangeKey == "" {
			return nil, NewError(fmt.Sprintf(`missing required attribute "RangeKey" on index %q`, idx.Name),
				WithCode(ErrMissingTableAttribute))
		}
		for _, key := range []string{idx.HashKey, idx.RangeKey} {
			if key != "" && !hasField(params.Schema, key) {
				return nil, NewError(fmt.Sprintf("index %q key %q does not exist in the schema fields", idx.Name, key),
					WithCode(ErrInvalidSchemaField))
			}
		}
	}

	log := params.Logger
	if log == nil {
		if params.Verbose {
			log = verboseLogger{}
		} else {
			log = defaultLogger{}
		}
	}
	return &Table{def: def, schema: params.Schema, log: log, client: params.Client}, nil
}

// Name returns the DynamoDB table name.
func (t *Table) Name() string { return t.def.Name }

// Def returns a copy of the table definition.
func (t *Table) Def() TableDef { return t.def }

// Schema returns the validator the table was built with.
func (t *Table) Schema() Validator { return t.schema }

func (t *Table) resolveClient(ctx context.Context) (DynamoClient, error) {
	t.clientOnce.Do(func() {
		if t.client != nil {
			return
		}
		t.client, t.clientErr = NewClient(ctx)
	})
	return t.client, t.clientErr
}

// keyAttributes returns the set of key attribute names for the base table
// (index == "") or a named secondary index.
func (t *Table) keyAttributes(index string) (map[string]bool, error) {
	keys := map[string]bool{}
	if index == "" {
		keys[t.def.HashKey] = true
		if t.def.RangeKey != "" {
			keys[t.def.RangeKey] = true
		}
		return keys, nil
	}
	for _, idx := range t.def.Indexes {
		if idx.Name != index {
			continue
		}
		if idx.Kind == LocalIndex {
			keys[t.def.HashKey] = true
		} else {
			keys[idx.HashKey] = true
		}
		if idx.RangeKey != "" {
			keys[idx.RangeKey] = true
		}
		return keys, nil
	}
	return nil, NewArgError(fmt.Sprintf("unknown index %q on table %q", index, t.def.Name))
}

// ─── DDL derivation ───────────────────────────────────────────────────────────

func keySchema(hash, rng string) []types.KeySchemaElement {
	elems := []types.KeySchemaElement{
		{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
	}
	if rng != "" {
		elems = append(elems, types.KeySchemaElement{
			AttributeName: aws.String(rng), KeyType: types.KeyTypeRange,
		})
	}
	return elems
}

func (t *Table) scalarType(attr string) types.ScalarAttributeType {
	tag, _ := t.schema.FieldType(attr)
	switch tag {
	case "N":
		return types.ScalarAttributeTypeN
	case "B":
		return types.ScalarAttributeTypeB
	}
	return types.ScalarAttributeTypeS
}

// attributeDefinitions spans the table keys and every index key, each attribute
// declared once, in sorted order.
func (t *Table) attributeDefinitions() []types.AttributeDefinition {
	attrs := map[string]bool{t.def.HashKey: true}
	if t.def.RangeKey != "" {
		attrs[t.def.RangeKey] = true
	}
	for _, idx := range t.def.Indexes {
		if idx.HashKey != "" {
			attrs[idx.HashKey] = true
		}
		if idx.RangeKey != "" {
			attrs[idx.RangeKey] = true
		}
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]types.AttributeDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: t.scalarType(name),
		})
	}
	return defs
}

func provisionedThroughput(read, write int64) *types.ProvisionedThroughput {
	if read == 0 && write == 0 {
		return nil
	}
	return &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(read),
		WriteCapacityUnits: aws.Int64(write),
	}
}

func indexProjection(idx IndexDef) *types.Projection {
	proj := &types.Projection{ProjectionType: types.ProjectionTypeAll}
	switch idx.Projection {
	case ProjectKeysOnly:
		proj.ProjectionType = types.ProjectionTypeKeysOnly
	case ProjectInclude:
		proj.ProjectionType = types.ProjectionTypeInclude
		proj.NonKeyAttributes = idx.IncludeAttrs
	}
	return proj
}

func (t *Table) createTableInput() *ddb.CreateTableInput {
	input := &ddb.CreateTableInput{
		TableName:            aws.String(t.def.Name),
		KeySchema:            keySchema(t.def.HashKey, t.def.RangeKey),
		AttributeDefinitions: t.attributeDefinitions(),
		BillingMode:          types.BillingModePayPerRequest,
	}
	if tp := provisionedThroughput(t.def.Read, t.def.Write); tp != nil {
		input.BillingMode = types.BillingModeProvisioned
		input.ProvisionedThroughput = tp
	}
	if t.def.Stream != "" {
		input.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewType(t.def.Stream),
		}
	}
	for _, idx := range t.def.Indexes {
		if idx.Kind == LocalIndex {
			input.LocalSecondaryIndexes = append(input.LocalSecondaryIndexes, types.LocalSecondaryIndex{
				IndexName:  aws.String(idx.Name),
				KeySchema:  keySchema(t.def.HashKey, idx.RangeKey),
				Projection: indexProjection(idx),
			})
			continue
		}
		gsi := types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  keySchema(idx.HashKey, idx.RangeKey),
			Projection: indexProjection(idx),
		}
		if tp := provisionedThroughput(idx.Read, idx.Write); tp != nil {
			gsi.ProvisionedThroughput = tp
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, gsi)
	}
	return input
}

// ─── DDL operations ───────────────────────────────────────────────────────────

// Create creates the table in DynamoDB. With wait set it blocks until the
// table reaches ACTIVE.
func (t *Table) Create(ctx context.Context, wait bool) error {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return err
	}
	t.log.Info(fmt.Sprintf("creating table %q", t.def.Name), nil)
	if _, err := client.CreateTable(ctx, t.createTableInput()); err != nil {
		return err
	}
	if wait {
		return t.waitForActive(ctx)
	}
	return nil
}

// Delete removes the table. With wait set it blocks until the table is gone.
func (t *Table) Delete(ctx context.Context, wait bool) error {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return err
	}
	t.log.Info(fmt.Sprintf("deleting table %q", t.def.Name), nil)
	if _, err := client.DeleteTable(ctx, &ddb.DeleteTableInput{TableName: aws.String(t.def.Name)}); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	return t.waitFor(ctx, func(desc *types.TableDescription, err error) (bool, error) {
		if isResourceNotFound(err) {
			return true, nil
		}
		return false, err
	})
}

// Exists reports whether the table is present in the store.
func (t *Table) Exists(ctx context.Context) (bool, error) {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return false, err
	}
	_, err = client.DescribeTable(ctx, &ddb.DescribeTableInput{TableName: aws.String(t.def.Name)})
	if isResourceNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateTable reconciles the live table towards the definition, applying at
// most one mutation per call: provisioned capacity first, then the stream
// specification, then one global index create or delete. It returns true when
// a mutation was submitted; callers loop (waiting for ACTIVE in between)
// until it returns false.
func (t *Table) UpdateTable(ctx context.Context) (bool, error) {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return false, err
	}
	out, err := client.DescribeTable(ctx, &ddb.DescribeTableInput{TableName: aws.String(t.def.Name)})
	if err != nil {
		return false, err
	}
	desc := out.Table
	input := &ddb.UpdateTableInput{TableName: aws.String(t.def.Name)}

	if tp := provisionedThroughput(t.def.Read, t.def.Write); tp != nil {
		live := desc.ProvisionedThroughput
		if live == nil ||
			aws.ToInt64(live.ReadCapacityUnits) != t.def.Read ||
			aws.ToInt64(live.WriteCapacityUnits) != t.def.Write {
			input.BillingMode = types.BillingModeProvisioned
			input.ProvisionedThroughput = tp
			t.log.Info(fmt.Sprintf("updating capacity on table %q", t.def.Name), nil)
			_, err = client.UpdateTable(ctx, input)
			return true, err
		}
	}

	liveStream := StreamView("")
	if desc.StreamSpecification != nil && aws.ToBool(desc.StreamSpecification.StreamEnabled) {
		liveStream = StreamView(desc.StreamSpecification.StreamViewType)
	}
	if liveStream != t.def.Stream {
		spec := &types.StreamSpecification{StreamEnabled: aws.Bool(false)}
		if t.def.Stream != "" {
			spec.StreamEnabled = aws.Bool(true)
			spec.StreamViewType = types.StreamViewType(t.def.Stream)
		}
		input.StreamSpecification = spec
		t.log.Info(fmt.Sprintf("updating stream on table %q", t.def.Name), nil)
		_, err = client.UpdateTable(ctx, input)
		return true, err
	}

	liveGSI := map[string]bool{}
	for _, g := range desc.GlobalSecondaryIndexes {
		liveGSI[aws.ToString(g.IndexName)] = true
	}
	wantGSI := map[string]bool{}
	for _, idx := range t.def.Indexes {
		if idx.Kind != GlobalIndex {
			continue
		}
		wantGSI[idx.Name] = true
		if liveGSI[idx.Name] {
			continue
		}
		update := types.GlobalSecondaryIndexUpdate{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName:             aws.String(idx.Name),
				KeySchema:             keySchema(idx.HashKey, idx.RangeKey),
				Projection:            indexProjection(idx),
				ProvisionedThroughput: provisionedThroughput(idx.Read, idx.Write),
			},
		}
		input.AttributeDefinitions = t.attributeDefinitions()
		input.GlobalSecondaryIndexUpdates = []types.GlobalSecondaryIndexUpdate{update}
		t.log.Info(fmt.Sprintf("creating index %q on table %q", idx.Name, t.def.Name), nil)
		_, err = client.UpdateTable(ctx, input)
		return true, err
	}
	for name := range liveGSI {
		if wantGSI[name] {
			continue
		}
		input.GlobalSecondaryIndexUpdates = []types.GlobalSecondaryIndexUpdate{{
			Delete: &types.DeleteGlobalSecondaryIndexAction{IndexName: aws.String(name)},
		}}
		t.log.Info(fmt.Sprintf("deleting index %q on table %q", name, t.def.Name), nil)
		_, err = client.UpdateTable(ctx, input)
		return true, err
	}
	return false, nil
}

const (
	waitInitial = 500 * time.Millisecond
	waitMax     = 20 * time.Second
)

// waitForActive polls DescribeTable until the table reaches ACTIVE, backing
// off exponentially from 0.5s up to a 20s cap. A status other than CREATING,
// UPDATING or ACTIVE fails with TableNotActive.
func (t *Table) waitForActive(ctx context.Context) error {
	return t.waitFor(ctx, func(desc *types.TableDescription, err error) (bool, error) {
		if err != nil {
			return false, err
		}
		switch desc.TableStatus {
		case types.TableStatusActive:
			return true, nil
		case types.TableStatusCreating, types.TableStatusUpdating:
			return false, nil
		}
		return false, NewError(fmt.Sprintf("table %q entered status %q", t.def.Name, desc.TableStatus),
			WithCode(ErrTableNotActive))
	})
}

func (t *Table) waitFor(ctx context.Context, done func(*types.TableDescription, error) (bool, error)) error {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return err
	}
	delay := waitInitial
	for {
		out, err := client.DescribeTable(ctx, &ddb.DescribeTableInput{TableName: aws.String(t.def.Name)})
		var desc *types.TableDescription
		if out != nil {
			desc = out.Table
		}
		ok, err := done(desc, err)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t.log.Trace(fmt.Sprintf("waiting on table %q", t.def.Name), map[string]any{"delay": delay.String()})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > waitMax {
			delay = waitMax
		}
	}
}

// ─── item marshalling ─────────────────────────────────────────────────────────

func marshalItem(item Item) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, NewError("cannot marshal item", WithCause(err))
	}
	return av, nil
}

func unmarshalItem(av map[string]types.AttributeValue) (Item, error) {
	var item Item
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, NewError("cannot unmarshal item", WithCause(err))
	}
	return item, nil
}

// removeNils deep-strips nil values so they are not written as NULL
// attributes. Slices keep nil elements, matching DynamoDB list semantics.
func removeNils(item Item) Item {
	cleaned := Item{}
	for k, v := range item {
		if v == nil {
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			cleaned[k] = removeNils(sub)
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}

// conditionInput renders conditions into expression text plus the marshalled
// placeholder maps, merged over any already-present update placeholders.
func conditionInput(conditions any, names map[string]string, values Item) (string, map[string]string, map[string]types.AttributeValue, error) {
	cond, err := toCond(conditions)
	if err != nil {
		return "", nil, nil, err
	}
	b := newExprBuilder()
	expr, err := b.render(cond)
	if err != nil {
		return "", nil, nil, err
	}
	merged := map[string]string{}
	for k, v := range names {
		merged[k] = v
	}
	for k, v := range b.names {
		merged[k] = v
	}
	mergedValues := Item{}
	for k, v := range values {
		mergedValues[k] = v
	}
	for k, v := range b.values {
		mergedValues[k] = v
	}
	var av map[string]types.AttributeValue
	if len(mergedValues) > 0 {
		if av, err = marshalItem(mergedValues); err != nil {
			return "", nil, nil, err
		}
	}
	if len(merged) == 0 {
		merged = nil
	}
	return expr, merged, av, nil
}

// ─── writes ───────────────────────────────────────────────────────────────────

// Put writes the full item, replacing any existing item with the same key.
// Optional conditions (an Item keyword map, a Cond, or a []Cond) must hold or
// the write fails with ConditionFailed.
func (t *Table) Put(ctx context.Context, item Item, conditions any) error {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return err
	}
	av, err := marshalItem(removeNils(item))
	if err != nil {
		return err
	}
	input := &ddb.PutItemInput{TableName: aws.String(t.def.Name), Item: av}
	expr, names, values, err := conditionInput(conditions, nil, nil)
	if err != nil {
		return err
	}
	if expr != "" {
		input.ConditionExpression = aws.String(expr)
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}
	t.log.Trace(fmt.Sprintf("put on table %q", t.def.Name), map[string]any{"condition": expr})
	if _, err := client.PutItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return NewError("put condition failed", WithCode(ErrConditionFailed), WithCause(err))
		}
		return err
	}
	return nil
}

// PutUnique writes the item only if no item with the same hash key exists.
// A clash fails with HashKeyExists.
func (t *Table) PutUnique(ctx context.Context, item Item) error {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return err
	}
	av, err := marshalItem(removeNils(item))
	if err != nil {
		return err
	}
	input := &ddb.PutItemInput{
		TableName:                aws.String(t.def.Name),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#_0)"),
		ExpressionAttributeNames: map[string]string{"#_0": t.def.HashKey},
	}
	if _, err := client.PutItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return NewError(fmt.Sprintf("an item with hash key %q already exists", t.def.HashKey),
				WithCode(ErrHashKeyExists), WithCause(err))
		}
		return err
	}
	return nil
}

const batchWriteChunk = 25

// PutBatch writes items in chunks of 25, retrying unprocessed items until
// the store accepts them all.
func (t *Table) PutBatch(ctx context.Context, items []Item) error {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(items); start += batchWriteChunk {
		end := start + batchWriteChunk
		if end > len(items) {
			end = len(items)
		}
		requests := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			av, err := marshalItem(removeNils(item))
			if err != nil {
				return err
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		pending := map[string][]types.WriteRequest{t.def.Name: requests}
		for len(pending[t.def.Name]) > 0 {
			out, err := client.BatchWriteItem(ctx, &ddb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			pending = out.UnprocessedItems
			if len(pending[t.def.Name]) > 0 {
				t.log.Trace(fmt.Sprintf("retrying %d unprocessed writes on table %q",
					len(pending[t.def.Name]), t.def.Name), nil)
			}
		}
	}
	return nil
}

// UpdateItem applies an update keyword map. Key fields select the target
// item and every other entry becomes a SET fragment; optional per-field
// suffixes request append, plus, minus or if_not_exists semantics. The
// updated attributes are returned per returnValues (ALL_NEW when empty).
func (t *Table) UpdateItem(ctx context.Context, updates Item, conditions any, returnValues types.ReturnValue) (Item, error) {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	u, err := buildUpdate(t.schema, t.def.HashKey, t.def.RangeKey, updates)
	if err != nil {
		return nil, err
	}
	if _, ok := u.key[t.def.HashKey]; !ok {
		return nil, NewError("primary key must be specified for updates", WithCode(ErrInvalidSchemaField))
	}
	if t.def.RangeKey != "" {
		if _, ok := u.key[t.def.RangeKey]; !ok {
			return nil, NewError("primary key must be specified for updates", WithCode(ErrInvalidSchemaField))
		}
	}
	keyAV, err := marshalItem(u.key)
	if err != nil {
		return nil, err
	}
	if returnValues == "" {
		returnValues = types.ReturnValueAllNew
	}
	input := &ddb.UpdateItemInput{
		TableName:    aws.String(t.def.Name),
		Key:          keyAV,
		ReturnValues: returnValues,
	}
	if u.expression != "" {
		input.UpdateExpression = aws.String(u.expression)
	}
	condExpr, names, values, err := conditionInput(conditions, u.names, u.values)
	if err != nil {
		return nil, err
	}
	if condExpr != "" {
		input.ConditionExpression = aws.String(condExpr)
	}
	input.ExpressionAttributeNames = names
	input.ExpressionAttributeValues = values

	t.log.Trace(fmt.Sprintf("update on table %q", t.def.Name),
		map[string]any{"update": u.expression, "condition": condExpr})
	out, err := client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, NewError("update condition failed", WithCode(ErrConditionFailed), WithCause(err))
		}
		return nil, err
	}
	if out.Attributes == nil {
		return Item{}, nil
	}
	return unmarshalItem(out.Attributes)
}

// DeleteItem removes the item with the given key, subject to optional
// conditions.
func (t *Table) DeleteItem(ctx context.Context, key Item, conditions any) error {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return err
	}
	keyAV, err := marshalItem(key)
	if err != nil {
		return err
	}
	input := &ddb.DeleteItemInput{TableName: aws.String(t.def.Name), Key: keyAV}
	expr, names, values, err := conditionInput(conditions, nil, nil)
	if err != nil {
		return err
	}
	if expr != "" {
		input.ConditionExpression = aws.String(expr)
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}
	if _, err := client.DeleteItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return NewError("delete condition failed", WithCode(ErrConditionFailed), WithCause(err))
		}
		return err
	}
	return nil
}

// ─── reads ────────────────────────────────────────────────────────────────────

// Get fetches one item by its full key. A missing item returns (nil, nil).
func (t *Table) Get(ctx context.Context, key Item, consistent bool) (Item, error) {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	keyAV, err := marshalItem(key)
	if err != nil {
		return nil, err
	}
	out, err := client.GetItem(ctx, &ddb.GetItemInput{
		TableName:      aws.String(t.def.Name),
		Key:            keyAV,
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return unmarshalItem(out.Item)
}

// GetBatch fetches many items by key through a lazy iterator that retries
// unprocessed keys between pages.
func (t *Table) GetBatch(keys []Item, consistent bool) *BatchIterator {
	return newBatchIterator(t, keys, consistent)
}

// Query returns a read iterator over items matching the filter keyword map.
// Entries naming key attributes of the target index form the key condition;
// the rest become a filter expression.
func (t *Table) Query(filters Item) *QueryIterator {
	return newQueryIterator(t, filters)
}

// Scan returns a read iterator over the whole table, with the filter map
// applied server-side after the read.
func (t *Table) Scan(filters Item) *ScanIterator {
	return newScanIterator(t, filters)
}

// readSpec is the compiled request shared by every page of one iteration.
type readSpec struct {
	query      bool
	index      string
	keyExpr    string
	filterExpr string
	projExpr   string
	names      map[string]string
	values     map[string]types.AttributeValue
	consistent bool
	reverse    bool
}

// buildReadSpec classifies the filter map and renders every expression once.
// A query whose filters carry no key condition fails here, before any store
// call.
func (t *Table) buildReadSpec(query bool, index string, filters Item, attrs []string) (*readSpec, error) {
	spec := &readSpec{query: query, index: index}
	b := newExprBuilder()

	keyAttrs := map[string]bool{}
	if query {
		var err error
		if keyAttrs, err = t.keyAttributes(index); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var keyParts []string
	filterCond := Cond{}
	for _, key := range keys {
		base, _, _ := strings.Cut(key, "__")
		if query && keyAttrs[base] {
			path, op, err := parseFilterKey(key)
			if err != nil {
				return nil, err
			}
			if len(path) > 1 {
				return nil, NewArgError(fmt.Sprintf("key condition %q cannot address a nested attribute", key))
			}
			part, err := b.renderKey(path[0], op, filters[key])
			if err != nil {
				return nil, err
			}
			keyParts = append(keyParts, part)
			continue
		}
		cond, err := Q(Item{key: filters[key]})
		if err != nil {
			return nil, err
		}
		filterCond = filterCond.And(cond)
	}
	if query && len(keyParts) == 0 {
		return nil, NewError("primary key must be specified for queries", WithCode(ErrInvalidSchemaField))
	}
	if len(keyParts) == 1 {
		spec.keyExpr = keyParts[0]
	} else if len(keyParts) > 1 {
		for i, p := range keyParts {
			keyParts[i] = "(" + p + ")"
		}
		spec.keyExpr = strings.Join(keyParts, " and ")
	}

	var err error
	if spec.filterExpr, err = b.render(filterCond); err != nil {
		return nil, err
	}

	names := map[string]string{}
	for k, v := range b.names {
		names[k] = v
	}
	// projection placeholders escape every path segment, nested ones too
	if len(attrs) > 0 {
		var parts []string
		for i, attr := range attrs {
			segs := strings.Split(attr, ".")
			refs := make([]string, len(segs))
			for j, seg := range segs {
				token := fmt.Sprintf("#pe%d_%d", i, j)
				names[token] = seg
				refs[j] = token
			}
			parts = append(parts, strings.Join(refs, "."))
		}
		spec.projExpr = strings.Join(parts, ", ")
	}
	if len(names) > 0 {
		spec.names = names
	}
	if len(b.values) > 0 {
		if spec.values, err = marshalItem(b.values); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

// readPage runs one query or scan page. With count set the store returns
// only the match count.
func (t *Table) readPage(ctx context.Context, spec *readSpec, start map[string]types.AttributeValue, limit int32, count bool) (*pageResult, error) {
	client, err := t.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	if spec.query {
		input := &ddb.QueryInput{
			TableName:                 aws.String(t.def.Name),
			KeyConditionExpression:    aws.String(spec.keyExpr),
			ExpressionAttributeNames:  spec.names,
			ExpressionAttributeValues: spec.values,
			ExclusiveStartKey:         start,
			ConsistentRead:            aws.Bool(spec.consistent),
		}
		if spec.index != "" {
			input.IndexName = aws.String(spec.index)
		}
		if spec.filterExpr != "" {
			input.FilterExpression = aws.String(spec.filterExpr)
		}
		if spec.projExpr != "" {
			input.ProjectionExpression = aws.String(spec.projExpr)
		}
		if spec.reverse {
			input.ScanIndexForward = aws.Bool(false)
		}
		if limit > 0 {
			input.Limit = aws.Int32(limit)
		}
		if count {
			input.Select = types.SelectCount
		}
		t.log.Trace(fmt.Sprintf("query on table %q", t.def.Name),
			map[string]any{"key": spec.keyExpr, "filter": spec.filterExpr})
		out, err := client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		return newPageResult(out.Items, out.LastEvaluatedKey, out.Count)
	}

	input := &ddb.ScanInput{
		TableName:                 aws.String(t.def.Name),
		ExpressionAttributeNames:  spec.names,
		ExpressionAttributeValues: spec.values,
		ExclusiveStartKey:         start,
		ConsistentRead:            aws.Bool(spec.consistent),
	}
	if spec.index != "" {
		input.IndexName = aws.String(spec.index)
	}
	if spec.filterExpr != "" {
		input.FilterExpression = aws.String(spec.filterExpr)
	}
	if spec.projExpr != "" {
		input.ProjectionExpression = aws.String(spec.projExpr)
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}
	if count {
		input.Select = types.SelectCount
	}
	t.log.Trace(fmt.Sprintf("scan on table %q", t.def.Name),
		map[string]any{"filter": spec.filterExpr})
	out, err := client.Scan(ctx, input)
	if err != nil {
		return nil, err
	}
	return newPageResult(out.Items, out.LastEvaluatedKey, out.Count)
}

// pageResult is one page of a query or scan in unmarshalled form.
type pageResult struct {
	items   []Item
	lastKey map[string]types.AttributeValue
	count   int32
}

func newPageResult(items []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue, count int32) (*pageResult, error) {
	page := &pageResult{lastKey: lastKey, count: count}
	for _, av := range items {
		item, err := unmarshalItem(av)
		if err != nil {
			return nil, err
		}
		page.items = append(page.items, item)
	}
	return page, nil
}

func isResourceNotFound(err error) bool {
	if err == nil {
		return false
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return true
	}
	return strings.Contains(err.Error(), "ResourceNotFound")
}
