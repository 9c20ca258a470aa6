package db

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// timestampLayout matches JavaScript's toISOString and sorts lexically
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// MemoryProvider keeps records in process memory. It enforces unique fields
// and relation foreign keys.
type MemoryProvider struct {
	mu        sync.RWMutex
	name      string
	records   map[string]Record
	seq       map[string]uint64
	next      uint64
	unique    []string
	relations []Relation
	now       func() time.Time
	newID     func() string
}

// MemoryOption configures a MemoryProvider
type MemoryOption func(*MemoryProvider)

// WithUnique makes fields unique across records
func WithUnique(fields ...string) MemoryOption {
	return func(m *MemoryProvider) {
		m.unique = append(m.unique, fields...)
	}
}

// WithRelation adds an includable relation checked on writes
func WithRelation(r Relation) MemoryOption {
	return func(m *MemoryProvider) {
		m.relations = append(m.relations, r)
	}
}

// WithMemoryClock replaces time.Now for timestamps
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryProvider) {
		m.now = now
	}
}

// NewMemoryProvider creates an empty provider for resource name
func NewMemoryProvider(name string, opts ...MemoryOption) *MemoryProvider {
	m := &MemoryProvider{
		name:    name,
		records: make(map[string]Record),
		seq:     make(map[string]uint64),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryProvider) FindMany(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	matched := make([]Record, 0)
	seqs := make(map[string]uint64)
	for id, rec := range m.records {
		if matches(rec, q.Where) {
			matched = append(matched, copyRecord(rec))
			seqs[id] = m.seq[id]
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		for _, o := range q.OrderBy {
			c := compareValues(a[o.Field], b[o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return seqs[a[FieldID].(string)] < seqs[b[FieldID].(string)]
	})

	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[q.Skip:]
		}
	}
	if q.Take > 0 && q.Take < len(matched) {
		matched = matched[:q.Take]
	}

	for _, rec := range matched {
		if err := m.include(ctx, rec, q.Include); err != nil {
			return nil, err
		}
	}
	return matched, nil
}

func (m *MemoryProvider) Count(ctx context.Context, where map[string]any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.records {
		if matches(rec, where) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryProvider) FindUnique(ctx context.Context, id string, include []string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	rec, ok := m.records[id]
	if ok {
		rec = copyRecord(rec)
	}
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if err := m.include(ctx, rec, include); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (m *MemoryProvider) Create(ctx context.Context, data Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkRelations(ctx, data); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := stripManaged(data)
	if err := m.checkUnique(rec, ""); err != nil {
		return nil, err
	}

	id := m.newID()
	stamp := m.now().UTC().Format(timestampLayout)
	rec[FieldID] = id
	rec[FieldCreatedAt] = stamp
	rec[FieldUpdatedAt] = stamp

	m.records[id] = rec
	m.next++
	m.seq[id] = m.next
	return copyRecord(rec), nil
}

// Update replaces every field but id and createdAt
func (m *MemoryProvider) Update(ctx context.Context, id string, data Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkRelations(ctx, data); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound(id)
	}

	rec := stripManaged(data)
	if err := m.checkUnique(rec, id); err != nil {
		return nil, err
	}
	rec[FieldID] = id
	rec[FieldCreatedAt] = existing[FieldCreatedAt]
	rec[FieldUpdatedAt] = m.now().UTC().Format(timestampLayout)

	m.records[id] = rec
	return copyRecord(rec), nil
}

func (m *MemoryProvider) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrRecordNotFound(id)
	}
	delete(m.records, id)
	delete(m.seq, id)
	return nil
}

// checkUnique must be called with the write lock held
func (m *MemoryProvider) checkUnique(rec Record, selfID string) error {
	for _, field := range m.unique {
		value, ok := rec[field]
		if !ok || value == nil {
			continue
		}
		for id, other := range m.records {
			if id != selfID && reflect.DeepEqual(other[field], value) {
				return ErrUniqueViolation(field)
			}
		}
	}
	return nil
}

func (m *MemoryProvider) checkRelations(ctx context.Context, data Record) error {
	return checkRelations(ctx, m.relations, data)
}

func (m *MemoryProvider) include(ctx context.Context, rec Record, include []string) error {
	return includeRelations(ctx, m.relations, rec, include)
}

func matches(rec Record, where map[string]any) bool {
	for k, want := range where {
		if !reflect.DeepEqual(rec[k], want) {
			return false
		}
	}
	return true
}

// compareValues orders missing values last and compares like types
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}

	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

// copyRecord deep copies so callers never share nested maps with the store
func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyRecord(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
