package quilt_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	quilt "github.com/quiltdb/quilt"
	"github.com/quiltdb/quilt/logger"
	"github.com/quiltdb/quilt/schema"
	"github.com/quiltdb/quilt/store/memstore"
)

// newTestDB builds a database over an in-memory store with the fixture
// schema the relationship tests share: users with posts, an account, roles
// through a join table and post comments through a two-hop chain; posts
// with an author and polymorphic comments.
func newTestDB(t *testing.T) (*quilt.Database, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	db, err := quilt.Open(&quilt.Config{
		Store:  store,
		Logger: logger.Discard,
	})
	require.NoError(t, err)

	err = db.Register(
		schema.Definition{
			Name: "User",
			Relationships: map[string]*schema.RelationshipConfig{
				"posts":   {Kind: schema.HasMany, ForeignModel: "Post"},
				"account": {Kind: schema.HasOne, ForeignModel: "Account"},
				"roles":   {Kind: schema.ManyToMany, ForeignModel: "Role"},
				"post_comments": {Kind: schema.HasManyThrough, Glue: []schema.RelationshipConfig{
					{Kind: schema.HasMany, ForeignModel: "Post"},
					{Kind: schema.HasMany, ForeignModel: "Comment"},
				}},
			},
		},
		schema.Definition{
			Name: "Post",
			Relationships: map[string]*schema.RelationshipConfig{
				"author": {Kind: schema.BelongsTo, ForeignModel: "User"},
				"comments": {
					Kind: schema.MorphMany, ForeignModel: "Comment",
					TypeKey: "commentable_type", IDKey: "commentable_id",
				},
				"featured_comment": {
					Kind: schema.MorphOne, ForeignModel: "Comment",
					TypeKey: "commentable_type", IDKey: "commentable_id",
				},
			},
		},
		schema.Definition{
			Name: "Comment",
			Relationships: map[string]*schema.RelationshipConfig{
				"commentable": {
					Kind:    schema.MorphTo,
					TypeKey: "commentable_type", IDKey: "commentable_id",
				},
			},
		},
		schema.Definition{Name: "Account"},
		schema.Definition{Name: "Role"},
		schema.Definition{Name: "RoleUser", Table: "roles_users"},
	)
	require.NoError(t, err)
	require.NoError(t, db.Boot())

	t.Cleanup(func() { _ = db.Close() })
	return db, store
}

func schemaUserOnly() schema.Definition {
	return schema.Definition{Name: "User"}
}

func seed(t *testing.T, store *memstore.Store, table string, rows ...quilt.Values) {
	t.Helper()
	tab := store.Table(table)
	for _, row := range rows {
		require.NoError(t, tab.Put(context.Background(), row["id"], row))
	}
}

func model(t *testing.T, db *quilt.Database, name string) *quilt.Model {
	t.Helper()
	m, err := db.Model(name)
	require.NoError(t, err)
	return m
}

func records(t *testing.T, value interface{}) []*quilt.Record {
	t.Helper()
	recs, ok := value.([]*quilt.Record)
	require.True(t, ok, "expected a record slice, got %T", value)
	return recs
}
