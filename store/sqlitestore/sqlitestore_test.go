package sqlitestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quilt "github.com/quiltdb/quilt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tab := store.Collection("users")

	writer := tab.(quilt.Writer)
	require.NoError(t, writer.Put(ctx, 1, quilt.Values{"id": 1, "name": "jinzhu"}))

	row, err := tab.Find(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "jinzhu", row["name"])

	missing, err := tab.Find(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPutUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tab := store.Collection("users")
	writer := tab.(quilt.Writer)

	require.NoError(t, writer.Put(ctx, 1, quilt.Values{"id": 1, "name": "first"}))
	require.NoError(t, writer.Put(ctx, 1, quilt.Values{"id": 1, "name": "second"}))

	row, err := tab.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "second", row["name"])
}

func TestFindByMatchesAcrossNumericForms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tab := store.Collection("posts")
	writer := tab.(quilt.Writer)

	// integers round-trip through JSON as float64; matching is done on
	// string forms so lookups with the original int still hit
	require.NoError(t, writer.Put(ctx, 10, quilt.Values{"id": 10, "user_id": 1}))

	row, err := tab.FindBy(ctx, "user_id", 1)
	require.NoError(t, err)
	require.NotNil(t, row)

	rows, err := tab.FindManyBy(ctx, "user_id", []interface{}{1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTablesAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	users := store.Collection("users").(quilt.Writer)
	posts := store.Collection("posts")
	require.NoError(t, users.Put(ctx, 1, quilt.Values{"id": 1}))

	row, err := posts.Find(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestDeleteTruncate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tab := store.Collection("users")
	writer := tab.(quilt.Writer)

	require.NoError(t, writer.Put(ctx, 1, quilt.Values{"id": 1}))
	require.NoError(t, writer.Put(ctx, 2, quilt.Values{"id": 2}))

	require.NoError(t, writer.Delete(ctx, 1))
	row, err := tab.Find(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, writer.Truncate(ctx))
	rows, err := tab.FindManyBy(ctx, "id", []interface{}{2})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
