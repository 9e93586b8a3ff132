// Package memstore provides an in-memory table-oriented store implementing
// quilt's lookup and write contracts. It backs the test suite and works as a
// default store for processes that do not need durability.
package memstore

import (
	"context"
	"sync"

	quilt "github.com/quiltdb/quilt"
	"github.com/quiltdb/quilt/utils"
)

// Store is an in-memory table store.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// New create an empty store.
func New() *Store {
	return &Store{tables: map[string]*Table{}}
}

// Collection returns the table, creating it on first use.
func (s *Store) Collection(name string) quilt.Collection {
	return s.Table(name)
}

// Table returns the named table with its full read/write surface.
func (s *Store) Table(name string) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &Table{rows: map[string]quilt.Values{}}
		s.tables[name] = t
	}
	return t
}

// Table is one in-memory table, keyed by the string form of the primary key.
type Table struct {
	mu   sync.RWMutex
	rows map[string]quilt.Values
}

// Find returns the row with the given primary key, nil when absent.
func (t *Table) Find(ctx context.Context, primaryKey interface{}) (quilt.Values, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[utils.ToString(primaryKey)]
	if !ok {
		return nil, nil
	}
	return cloneValues(row), nil
}

// FindBy returns the first row whose property matches value, nil when none.
func (t *Table) FindBy(ctx context.Context, property string, value interface{}) (quilt.Values, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, row := range t.rows {
		if utils.EqualKeys(row[property], value) {
			return cloneValues(row), nil
		}
	}
	return nil, nil
}

// FindManyBy returns every row whose property matches any of the values.
func (t *Table) FindManyBy(ctx context.Context, property string, values []interface{}) ([]quilt.Values, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []quilt.Values{}
	for _, row := range t.rows {
		for _, v := range values {
			if utils.EqualKeys(row[property], v) {
				out = append(out, cloneValues(row))
				break
			}
		}
	}
	return out, nil
}

// Put inserts or replaces one row.
func (t *Table) Put(ctx context.Context, primaryKey interface{}, values quilt.Values) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[utils.ToString(primaryKey)] = cloneValues(values)
	return nil
}

// Delete removes one row; deleting a missing row is a no-op.
func (t *Table) Delete(ctx context.Context, primaryKey interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, utils.ToString(primaryKey))
	return nil
}

// Truncate removes every row.
func (t *Table) Truncate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = map[string]quilt.Values{}
	return nil
}

// Len reports the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func cloneValues(values quilt.Values) quilt.Values {
	out := make(quilt.Values, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
