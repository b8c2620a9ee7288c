/*
Package dynarow – Model and Record.

Model binds a Table to its Validator and lifecycle hooks, turning raw item
maps into validated Record instances. Record carries one item plus the
snapshot it was loaded from, which drives partial saves.
*/
package dynarow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Model is the validated-object layer over a Table.
type Model struct {
	table *Table
	hooks Hooks
}

// NewModel binds a model to a table. Hooks may be nil.
func NewModel(table *Table, hooks *Hooks) *Model {
	m := &Model{table: table}
	if hooks != nil {
		m.hooks = *hooks
	}
	return m
}

// Table returns the underlying table facade.
func (m *Model) Table() *Table { return m.table }

// Record is one validated item bound to its model. The loaded snapshot is
// the last state confirmed by the store; a fresh record has none.
type Record struct {
	model  *Model
	data   Item
	loaded Item
}

// New validates attrs as a complete item (applying defaults and generated
// fields) and returns an unsaved record.
func (m *Model) New(ctx context.Context, attrs Item) (*Record, error) {
	cleaned, err := m.table.schema.Validate(attrs, false, true)
	if err != nil {
		return nil, err
	}
	rec := &Record{model: m, data: cleaned}
	if err := runHooks(ctx, m.hooks.PostInit, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// load wraps a store item into a record with a loaded snapshot. Store items
// are validated partially since projections and optional fields may be
// absent.
func (m *Model) load(ctx context.Context, item Item) (*Record, error) {
	cleaned, err := m.table.schema.Validate(item, true, true)
	if err != nil {
		return nil, err
	}
	rec := &Record{model: m, data: cleaned, loaded: copyItem(cleaned)}
	if err := runHooks(ctx, m.hooks.PostInit, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a field value.
func (r *Record) Get(name string) any { return r.data[name] }

// Set assigns a field value. The change is local until Save or Update.
func (r *Record) Set(name string, value any) { r.data[name] = value }

// Data returns a copy of the record's fields.
func (r *Record) Data() Item { return copyItem(r.data) }

// IsLoaded reports whether the record has a store-confirmed snapshot.
func (r *Record) IsLoaded() bool { return r.loaded != nil }

func (r *Record) key() (Item, error) {
	def := r.model.table.def
	key := Item{}
	hash, ok := r.data[def.HashKey]
	if !ok {
		return nil, NewError(fmt.Sprintf("record is missing hash key %q", def.HashKey),
			WithCode(ErrValidation))
	}
	key[def.HashKey] = hash
	if def.RangeKey != "" {
		rng, ok := r.data[def.RangeKey]
		if !ok {
			return nil, NewError(fmt.Sprintf("record is missing range key %q", def.RangeKey),
				WithCode(ErrValidation))
		}
		key[def.RangeKey] = rng
	}
	return key, nil
}

// ─── model operations ─────────────────────────────────────────────────────────

// Put validates attrs and writes them as a full item, returning the saved
// record.
func (m *Model) Put(ctx context.Context, attrs Item, conditions any) (*Record, error) {
	rec, err := m.New(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if err := rec.save(ctx, false, false, conditions); err != nil {
		return nil, err
	}
	return rec, nil
}

// PutUnique is Put guarded by an attribute_not_exists condition on the hash
// key; a clash fails with HashKeyExists.
func (m *Model) PutUnique(ctx context.Context, attrs Item) (*Record, error) {
	rec, err := m.New(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if err := rec.save(ctx, false, true, nil); err != nil {
		return nil, err
	}
	return rec, nil
}

// PutBatch validates and writes many items. Pre and post save hooks run per
// record; a pre-hook or validation error aborts before anything is written.
func (m *Model) PutBatch(ctx context.Context, attrs []Item) ([]*Record, error) {
	recs := make([]*Record, 0, len(attrs))
	items := make([]Item, 0, len(attrs))
	for _, raw := range attrs {
		rec, err := m.New(ctx, raw)
		if err != nil {
			return nil, err
		}
		if err := runHooks(ctx, m.hooks.PreSave, rec); err != nil {
			return nil, err
		}
		storage, err := m.table.schema.Validate(rec.data, false, false)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
		items = append(items, storage)
	}
	if err := m.table.PutBatch(ctx, items); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		rec.loaded = copyItem(rec.data)
		if err := runHooks(ctx, m.hooks.PostSave, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Get fetches one record by key. A missing item returns (nil, nil).
func (m *Model) Get(ctx context.Context, key Item, consistent bool) (*Record, error) {
	item, err := m.table.Get(ctx, key, consistent)
	if err != nil || item == nil {
		return nil, err
	}
	return m.load(ctx, item)
}

// GetBatch fetches many records by key. Ordering follows the store
// responses, not the key list.
func (m *Model) GetBatch(ctx context.Context, keys []Item, consistent bool) ([]*Record, error) {
	it := m.table.GetBatch(keys, consistent)
	var recs []*Record
	for it.Next(ctx) {
		rec, err := m.load(ctx, it.Record())
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, it.Err()
}

// UpdateItem applies an update keyword map directly and returns the
// resulting record.
func (m *Model) UpdateItem(ctx context.Context, updates Item, conditions any) (*Record, error) {
	attrs, err := m.table.UpdateItem(ctx, updates, conditions, types.ReturnValueAllNew)
	if err != nil {
		return nil, err
	}
	return m.load(ctx, attrs)
}

// Query returns the table's query iterator; use Records to materialise it.
func (m *Model) Query(filters Item) *QueryIterator { return m.table.Query(filters) }

// Scan returns the table's scan iterator; use Records to materialise it.
func (m *Model) Scan(filters Item) *ScanIterator { return m.table.Scan(filters) }

// ItemIterator is any iterator yielding raw items.
type ItemIterator interface {
	Next(ctx context.Context) bool
	Record() Item
	Err() error
}

// Records wraps an item iterator so it yields validated records.
func (m *Model) Records(src ItemIterator) *RecordIterator {
	return &RecordIterator{model: m, src: src}
}

// RecordIterator materialises an item iterator into records.
type RecordIterator struct {
	model *Model
	src   ItemIterator
	rec   *Record
	err   error
}

func (ri *RecordIterator) Next(ctx context.Context) bool {
	if ri.err != nil {
		return false
	}
	if !ri.src.Next(ctx) {
		return false
	}
	ri.rec, ri.err = ri.model.load(ctx, ri.src.Record())
	return ri.err == nil
}

func (ri *RecordIterator) Record() *Record { return ri.rec }

func (ri *RecordIterator) Err() error {
	if ri.err != nil {
		return ri.err
	}
	return ri.src.Err()
}

// All drains the iterator into a slice.
func (ri *RecordIterator) All(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	for ri.Next(ctx) {
		recs = append(recs, ri.rec)
	}
	return recs, ri.Err()
}

// ─── record operations ────────────────────────────────────────────────────────

// Save writes the record. With partial set and a loaded snapshot present,
// only top-level fields that differ from the snapshot are sent as an update;
// otherwise the full item is put. With unique set the write fails with
// HashKeyExists when the hash key is already taken.
func (r *Record) Save(ctx context.Context, partial bool, unique bool) error {
	return r.save(ctx, partial, unique, nil)
}

func (r *Record) save(ctx context.Context, partial, unique bool, conditions any) error {
	m := r.model
	if err := runHooks(ctx, m.hooks.PreSave, r); err != nil {
		return err
	}

	if partial && r.loaded != nil {
		updates, err := r.dirtyFields()
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			key, err := r.key()
			if err != nil {
				return err
			}
			for k, v := range key {
				updates[k] = v
			}
			attrs, err := m.table.UpdateItem(ctx, updates, conditions, types.ReturnValueAllNew)
			if err != nil {
				return err
			}
			cleaned, err := m.table.schema.Validate(attrs, true, true)
			if err != nil {
				return err
			}
			r.data = cleaned
		}
		r.loaded = copyItem(r.data)
		return runHooks(ctx, m.hooks.PostSave, r)
	}

	storage, err := m.table.schema.Validate(r.data, false, false)
	if err != nil {
		return err
	}
	if unique {
		err = m.table.PutUnique(ctx, storage)
	} else {
		err = m.table.Put(ctx, storage, conditions)
	}
	if err != nil {
		return err
	}
	r.loaded = copyItem(r.data)
	return runHooks(ctx, m.hooks.PostSave, r)
}

// dirtyFields diffs the record against its loaded snapshot, top-level field
// by field. A mutated nested value updates its whole field.
func (r *Record) dirtyFields() (Item, error) {
	storage, err := r.model.table.schema.Validate(r.data, true, false)
	if err != nil {
		return nil, err
	}
	snapshot, err := r.model.table.schema.Validate(r.loaded, true, false)
	if err != nil {
		return nil, err
	}
	updates := Item{}
	for name, value := range storage {
		if prev, ok := snapshot[name]; !ok || !reflect.DeepEqual(prev, value) {
			updates[name] = value
		}
	}
	return updates, nil
}

// Update applies an update keyword map to this record in the store and
// refreshes the local fields from the returned attributes.
func (r *Record) Update(ctx context.Context, updates Item, conditions any) error {
	m := r.model
	if err := runHooks(ctx, m.hooks.PreUpdate, r); err != nil {
		return err
	}
	key, err := r.key()
	if err != nil {
		return err
	}
	merged := Item{}
	for k, v := range updates {
		merged[k] = v
	}
	for k, v := range key {
		merged[k] = v
	}
	attrs, err := m.table.UpdateItem(ctx, merged, conditions, types.ReturnValueAllNew)
	if err != nil {
		return err
	}
	cleaned, err := m.table.schema.Validate(attrs, true, true)
	if err != nil {
		return err
	}
	r.data = cleaned
	r.loaded = copyItem(cleaned)
	return runHooks(ctx, m.hooks.PostUpdate, r)
}

// Delete removes the record from the store.
func (r *Record) Delete(ctx context.Context, conditions any) error {
	m := r.model
	if err := runHooks(ctx, m.hooks.PreDelete, r); err != nil {
		return err
	}
	key, err := r.key()
	if err != nil {
		return err
	}
	if err := m.table.DeleteItem(ctx, key, conditions); err != nil {
		return err
	}
	r.loaded = nil
	return runHooks(ctx, m.hooks.PostDelete, r)
}

func copyItem(item Item) Item {
	dup := Item{}
	for k, v := range item {
		dup[k] = v
	}
	return dup
}
