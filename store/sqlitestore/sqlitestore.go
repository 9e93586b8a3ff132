// Package sqlitestore persists quilt tables in a single SQLite database,
// one JSON document per record. It implements quilt's lookup and write
// contracts; property matching happens on the decoded documents, so no
// per-table DDL is needed.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	quilt "github.com/quiltdb/quilt"
	"github.com/quiltdb/quilt/utils"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS quilt_records (
	tbl TEXT NOT NULL,
	pk  TEXT NOT NULL,
	doc TEXT NOT NULL,
	PRIMARY KEY (tbl, pk)
);`

// Store is a SQLite-backed table store.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) a store at the given DSN. Use
// ":memory:" for an ephemeral database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Collection returns the named table.
func (s *Store) Collection(name string) quilt.Collection {
	return &table{db: s.db, name: name}
}

type table struct {
	db   *sql.DB
	name string
}

func (t *table) Find(ctx context.Context, primaryKey interface{}) (quilt.Values, error) {
	var doc string
	err := t.db.QueryRowContext(ctx,
		`SELECT doc FROM quilt_records WHERE tbl = ? AND pk = ?`,
		t.name, utils.ToString(primaryKey),
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

func (t *table) FindBy(ctx context.Context, property string, value interface{}) (quilt.Values, error) {
	rows, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if utils.EqualKeys(row[property], value) {
			return row, nil
		}
	}
	return nil, nil
}

func (t *table) FindManyBy(ctx context.Context, property string, values []interface{}) ([]quilt.Values, error) {
	rows, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := []quilt.Values{}
	for _, row := range rows {
		for _, v := range values {
			if utils.EqualKeys(row[property], v) {
				out = append(out, row)
				break
			}
		}
	}
	return out, nil
}

func (t *table) Put(ctx context.Context, primaryKey interface{}, values quilt.Values) error {
	doc, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO quilt_records (tbl, pk, doc) VALUES (?, ?, ?)
		 ON CONFLICT (tbl, pk) DO UPDATE SET doc = excluded.doc`,
		t.name, utils.ToString(primaryKey), string(doc),
	)
	return err
}

func (t *table) Delete(ctx context.Context, primaryKey interface{}) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM quilt_records WHERE tbl = ? AND pk = ?`,
		t.name, utils.ToString(primaryKey),
	)
	return err
}

func (t *table) Truncate(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM quilt_records WHERE tbl = ?`, t.name)
	return err
}

func (t *table) scan(ctx context.Context) ([]quilt.Values, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT doc FROM quilt_records WHERE tbl = ?`, t.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []quilt.Values{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		values, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

func decode(doc string) (quilt.Values, error) {
	values := quilt.Values{}
	if err := json.Unmarshal([]byte(doc), &values); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return values, nil
}
