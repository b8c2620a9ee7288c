/*
Package dynarow – read iterators.

Query, Scan and GetBatch return lazy iterators in the bufio.Scanner style:
configure, then loop Next(ctx) and read Record(), then check Err(). Pages are
fetched from the store on demand.
*/
package dynarow

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type iterState int

const (
	iterUnstarted iterState = iota
	iterPaged
	iterExhausted
)

// readIterator drives paginated query/scan reads. It moves Unstarted →
// Paged → Exhausted; configuration is only legal while Unstarted.
type readIterator struct {
	table   *Table
	query   bool
	filters Item

	index      string
	limit      int32
	startItem  Item
	consistent bool
	reverse    bool
	recursive  bool
	attrs      []string

	spec    *readSpec
	state   iterState
	page    []Item
	pos     int
	record  Item
	lastKey map[string]types.AttributeValue
	cursor  map[string]types.AttributeValue
	resume  map[string]types.AttributeValue
	err     error
}

// configurable guards the chainable mutators: touching a started iterator is
// a usage error, surfaced through Err.
func (it *readIterator) configurable() bool {
	if it.err != nil {
		return false
	}
	if it.state != iterUnstarted {
		it.err = NewArgError("iterator cannot be reconfigured after iteration has started")
		return false
	}
	return true
}

func (it *readIterator) prepare() error {
	if it.limit > 0 && it.recursive {
		it.table.log.Warn("iterator limit disables recursive pagination", map[string]any{
			"table": it.table.def.Name, "limit": it.limit,
		})
		it.recursive = false
	}
	spec, err := it.table.buildReadSpec(it.query, it.index, it.filters, it.attrs)
	if err != nil {
		return err
	}
	spec.consistent = it.consistent
	spec.reverse = it.reverse
	it.spec = spec

	it.cursor = nil
	if it.startItem != nil {
		if it.cursor, err = marshalItem(it.startItem); err != nil {
			return err
		}
	}
	return nil
}

func (it *readIterator) fetch(ctx context.Context) error {
	page, err := it.table.readPage(ctx, it.spec, it.cursor, it.limit, false)
	if err != nil {
		return err
	}
	it.page = page.items
	it.pos = 0
	it.lastKey = page.lastKey
	it.cursor = page.lastKey
	return nil
}

// next advances to the next record, fetching further pages when recursive.
func (it *readIterator) next(ctx context.Context) bool {
	if it.err != nil || it.state == iterExhausted {
		return false
	}
	if it.state == iterUnstarted {
		if it.err = it.prepare(); it.err != nil {
			return false
		}
		if it.resume != nil {
			it.cursor = it.resume
			it.resume = nil
		}
		if it.err = it.fetch(ctx); it.err != nil {
			return false
		}
		it.state = iterPaged
	}
	for {
		if it.pos < len(it.page) {
			it.record = it.page[it.pos]
			it.pos++
			return true
		}
		if it.lastKey == nil || !it.recursive {
			it.state = iterExhausted
			return false
		}
		// a filtered page can be empty yet carry a continuation key
		if it.err = it.fetch(ctx); it.err != nil {
			return false
		}
	}
}

// again rewinds the iterator. After an exhausted iteration that left a
// continuation key (a page limit was hit), the next pass resumes there;
// otherwise it replays from the configured start.
func (it *readIterator) again() {
	if it.err != nil {
		return
	}
	it.resume = it.lastKey
	it.lastKey = nil
	it.state = iterUnstarted
	it.page = nil
	it.pos = 0
	it.record = nil
}

// count issues Select=COUNT requests over the same expression, following
// continuation keys so the total covers the full match set.
func (it *readIterator) count(ctx context.Context) (int32, error) {
	if it.err != nil {
		return 0, it.err
	}
	spec, err := it.table.buildReadSpec(it.query, it.index, it.filters, it.attrs)
	if err != nil {
		return 0, err
	}
	spec.consistent = it.consistent
	spec.reverse = it.reverse

	var cursor map[string]types.AttributeValue
	if it.startItem != nil {
		if cursor, err = marshalItem(it.startItem); err != nil {
			return 0, err
		}
	}
	var total int32
	for {
		page, err := it.table.readPage(ctx, spec, cursor, it.limit, true)
		if err != nil {
			return 0, err
		}
		total += page.count
		if page.lastKey == nil {
			return total, nil
		}
		cursor = page.lastKey
	}
}

func (it *readIterator) all(ctx context.Context) ([]Item, error) {
	var items []Item
	for it.next(ctx) {
		items = append(items, it.record)
	}
	return items, it.err
}

// ─── QueryIterator ────────────────────────────────────────────────────────────

// QueryIterator iterates a key-condition query, one record per Next call.
type QueryIterator struct {
	it readIterator
}

func newQueryIterator(t *Table, filters Item) *QueryIterator {
	return &QueryIterator{it: readIterator{table: t, query: true, filters: filters}}
}

// Index targets a secondary index instead of the base table.
func (q *QueryIterator) Index(name string) *QueryIterator {
	if q.it.configurable() {
		q.it.index = name
	}
	return q
}

// Limit caps the page size. A limit turns off recursive pagination; use
// Again to continue past it.
func (q *QueryIterator) Limit(n int32) *QueryIterator {
	if q.it.configurable() {
		q.it.limit = n
	}
	return q
}

// Start resumes iteration after the item with the given key.
func (q *QueryIterator) Start(key Item) *QueryIterator {
	if q.it.configurable() {
		q.it.startItem = key
	}
	return q
}

// Consistent requests strongly consistent reads.
func (q *QueryIterator) Consistent() *QueryIterator {
	if q.it.configurable() {
		q.it.consistent = true
	}
	return q
}

// Reverse iterates in descending range-key order.
func (q *QueryIterator) Reverse() *QueryIterator {
	if q.it.configurable() {
		q.it.reverse = true
	}
	return q
}

// Recursive follows continuation keys so iteration spans every page.
func (q *QueryIterator) Recursive() *QueryIterator {
	if q.it.configurable() {
		q.it.recursive = true
	}
	return q
}

// SpecificAttributes projects only the named attributes. Dotted names
// address nested fields.
func (q *QueryIterator) SpecificAttributes(attrs []string) *QueryIterator {
	if q.it.configurable() {
		q.it.attrs = attrs
	}
	return q
}

// Next fetches the next record, reading further pages as needed. It returns
// false at the end of the result set or on error; check Err afterwards.
func (q *QueryIterator) Next(ctx context.Context) bool { return q.it.next(ctx) }

// Record returns the record produced by the last successful Next.
func (q *QueryIterator) Record() Item { return q.it.record }

// Err returns the first error the iterator hit, if any.
func (q *QueryIterator) Err() error { return q.it.err }

// Again rewinds the iterator, resuming from the continuation key when the
// previous pass stopped at a page boundary.
func (q *QueryIterator) Again() *QueryIterator { q.it.again(); return q }

// Count returns the total number of matching items without materialising
// them.
func (q *QueryIterator) Count(ctx context.Context) (int32, error) { return q.it.count(ctx) }

// All drains the iterator into a slice.
func (q *QueryIterator) All(ctx context.Context) ([]Item, error) { return q.it.all(ctx) }

// ─── ScanIterator ─────────────────────────────────────────────────────────────

// ScanIterator iterates a full-table scan with an optional filter map.
type ScanIterator struct {
	it readIterator
}

func newScanIterator(t *Table, filters Item) *ScanIterator {
	return &ScanIterator{it: readIterator{table: t, query: false, filters: filters}}
}

// Index scans a secondary index instead of the base table.
func (s *ScanIterator) Index(name string) *ScanIterator {
	if s.it.configurable() {
		s.it.index = name
	}
	return s
}

// Limit caps the page size. A limit turns off recursive pagination; use
// Again to continue past it.
func (s *ScanIterator) Limit(n int32) *ScanIterator {
	if s.it.configurable() {
		s.it.limit = n
	}
	return s
}

// Start resumes iteration after the item with the given key.
func (s *ScanIterator) Start(key Item) *ScanIterator {
	if s.it.configurable() {
		s.it.startItem = key
	}
	return s
}

// Consistent requests strongly consistent reads.
func (s *ScanIterator) Consistent() *ScanIterator {
	if s.it.configurable() {
		s.it.consistent = true
	}
	return s
}

// Recursive follows continuation keys so iteration spans every page.
func (s *ScanIterator) Recursive() *ScanIterator {
	if s.it.configurable() {
		s.it.recursive = true
	}
	return s
}

// SpecificAttributes projects only the named attributes.
func (s *ScanIterator) SpecificAttributes(attrs []string) *ScanIterator {
	if s.it.configurable() {
		s.it.attrs = attrs
	}
	return s
}

func (s *ScanIterator) Next(ctx context.Context) bool { return s.it.next(ctx) }
func (s *ScanIterator) Record() Item                  { return s.it.record }
func (s *ScanIterator) Err() error                    { return s.it.err }
func (s *ScanIterator) Again() *ScanIterator          { s.it.again(); return s }

func (s *ScanIterator) Count(ctx context.Context) (int32, error) { return s.it.count(ctx) }
func (s *ScanIterator) All(ctx context.Context) ([]Item, error)  { return s.it.all(ctx) }

// ─── BatchIterator ────────────────────────────────────────────────────────────

const batchGetChunk = 100

// BatchIterator yields batch-get results lazily, retrying unprocessed keys
// between pages. Each requested key is yielded at most once; ordering within
// a page follows the store response.
type BatchIterator struct {
	table      *Table
	consistent bool

	pending     []map[string]types.AttributeValue
	unprocessed []map[string]types.AttributeValue
	buf         []Item
	pos         int
	record      Item
	err         error
	prepared    bool
}

func newBatchIterator(t *Table, keys []Item, consistent bool) *BatchIterator {
	b := &BatchIterator{table: t, consistent: consistent}
	for _, key := range keys {
		av, err := marshalItem(key)
		if err != nil {
			b.err = err
			return b
		}
		b.pending = append(b.pending, av)
	}
	return b
}

// Next fetches the next record. It returns false when every key has been
// resolved or on error; check Err afterwards.
func (b *BatchIterator) Next(ctx context.Context) bool {
	if b.err != nil {
		return false
	}
	for {
		if b.pos < len(b.buf) {
			b.record = b.buf[b.pos]
			b.pos++
			return true
		}
		chunk := b.unprocessed
		b.unprocessed = nil
		for len(chunk) < batchGetChunk && len(b.pending) > 0 {
			chunk = append(chunk, b.pending[0])
			b.pending = b.pending[1:]
		}
		if len(chunk) == 0 {
			return false
		}
		if b.err = b.fetch(ctx, chunk); b.err != nil {
			return false
		}
	}
}

func (b *BatchIterator) fetch(ctx context.Context, chunk []map[string]types.AttributeValue) error {
	client, err := b.table.resolveClient(ctx)
	if err != nil {
		return err
	}
	name := b.table.def.Name
	out, err := client.BatchGetItem(ctx, &ddb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			name: {Keys: chunk, ConsistentRead: aws.Bool(b.consistent)},
		},
	})
	if err != nil {
		return err
	}
	b.buf = nil
	b.pos = 0
	for _, av := range out.Responses[name] {
		item, err := unmarshalItem(av)
		if err != nil {
			return err
		}
		b.buf = append(b.buf, item)
	}
	if ka, ok := out.UnprocessedKeys[name]; ok && len(ka.Keys) > 0 {
		b.unprocessed = ka.Keys
		b.table.log.Trace(fmt.Sprintf("retrying %d unprocessed gets on table %q", len(ka.Keys), name), nil)
	}
	return nil
}

// Record returns the record produced by the last successful Next.
func (b *BatchIterator) Record() Item { return b.record }

// Err returns the first error the iterator hit, if any.
func (b *BatchIterator) Err() error { return b.err }

// All drains the iterator into a slice.
func (b *BatchIterator) All(ctx context.Context) ([]Item, error) {
	var items []Item
	for b.Next(ctx) {
		items = append(items, b.record)
	}
	return items, b.err
}
