package quilt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quilt "github.com/quiltdb/quilt"
	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/logger"
	"github.com/quiltdb/quilt/store/memstore"
)

func TestSetBatchesUntilFlush(t *testing.T) {
	db, _ := newTestDB(t)

	user := model(t, db, "User").Hydrate(quilt.Values{"id": 1, "name": "jinzhu"})

	var deltas []emitter.Delta
	user.OnDelta(func(d emitter.Delta) { deltas = append(deltas, d) })

	user.Set("name", "renamed")
	user.Set("age", 18)
	assert.Empty(t, deltas, "nothing published before flush")

	user.Flush()
	require.Len(t, deltas, 1)
	assert.Equal(t, "renamed", deltas[0]["name"].Is)
	assert.Equal(t, "jinzhu", deltas[0]["name"].Was)
	assert.Equal(t, 18, deltas[0]["age"].Is)
}

func TestSavePersistsAndAnnounces(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	var seen []bus.Message
	db.Bus().On(bus.Saved, func(msg bus.Message) { seen = append(seen, msg) })
	db.Bus().On(bus.StorageMutated, func(msg bus.Message) { seen = append(seen, msg) })

	var flushed int
	user := model(t, db, "User").New(quilt.Values{"id": 1, "name": "jinzhu"})
	user.OnChange(func(is, was quilt.Values) { flushed++ })

	require.NoError(t, user.Save(ctx))

	row, err := store.Table("users").Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "jinzhu", row["name"])

	assert.Equal(t, 1, flushed, "save flushes batched changes")
	require.Len(t, seen, 2)
	assert.Equal(t, bus.Saved, seen[0].Event)
	assert.Equal(t, "User", seen[0].Model)
	assert.Equal(t, 1, seen[0].PrimaryKey)
	assert.Equal(t, bus.StorageMutated, seen[1].Event)
}

func TestSaveAssignsPrimaryKey(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	user := model(t, db, "User").New(quilt.Values{"name": "anonymous"})
	require.Nil(t, user.PrimaryKey())
	require.NoError(t, user.Save(ctx))

	pk, ok := user.PrimaryKey().(string)
	require.True(t, ok, "generated keys are uuid strings")
	assert.NotEmpty(t, pk)

	row, err := store.Table("users").Find(ctx, pk)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", row["name"])
}

func TestSaveMaintainsTimestamps(t *testing.T) {
	frozen := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	db, err := quilt.Open(&quilt.Config{
		Store:   memstore.New(),
		Logger:  logger.Discard,
		NowFunc: func() time.Time { return frozen },
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Register(schemaUserOnly()))
	require.NoError(t, db.Boot())

	ctx := context.Background()
	user := model(t, db, "User").New(quilt.Values{
		"id": 1, "created_at": nil, "updated_at": nil,
	})
	require.NoError(t, user.Save(ctx))
	assert.Equal(t, frozen, user.Get("created_at"))
	assert.Equal(t, frozen, user.Get("updated_at"))

	// an existing string timestamp is coerced, not overwritten
	user.Set("created_at", "2020-01-02 15:04:05")
	require.NoError(t, user.Save(ctx))
	created, ok := user.Get("created_at").(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2020, created.Year())
}

func TestDeleteWithoutPrimaryKeyFails(t *testing.T) {
	db, _ := newTestDB(t)

	user := model(t, db, "User").New(quilt.Values{"name": "nobody"})
	err := user.Delete(context.Background())
	assert.ErrorIs(t, err, quilt.ErrMissingPrimaryKey)
}

func TestDeleteAnnounces(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	seed(t, store, "users", quilt.Values{"id": 1})
	user := model(t, db, "User").Hydrate(quilt.Values{"id": 1})

	var deleted []bus.Message
	db.Bus().On(bus.Deleted, func(msg bus.Message) { deleted = append(deleted, msg) })

	require.NoError(t, user.Delete(ctx))
	require.Len(t, deleted, 1)
	assert.Equal(t, 1, deleted[0].PrimaryKey)
	assert.Equal(t, 0, store.Table("users").Len())
}

func TestModelFindHydrates(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	seed(t, store, "users", quilt.Values{"id": 1, "name": "jinzhu"})

	user, err := model(t, db, "User").Find(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "jinzhu", user.Get("name"))

	missing, err := model(t, db, "User").Find(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInstanceIdentityIsUnique(t *testing.T) {
	db, _ := newTestDB(t)

	userModel := model(t, db, "User")
	first := userModel.Hydrate(quilt.Values{"id": 1})
	second := userModel.Hydrate(quilt.Values{"id": 1})
	assert.NotEqual(t, first.InstanceID(), second.InstanceID())
}

func TestHydratePrimesWithoutEvents(t *testing.T) {
	db, _ := newTestDB(t)

	user := model(t, db, "User").Hydrate(quilt.Values{"id": 1, "name": "jinzhu"})

	var deltas int
	user.OnDelta(func(emitter.Delta) { deltas++ })
	user.Flush()
	assert.Zero(t, deltas, "hydration is not a change")
}
