package quilt

import (
	"context"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
)

// HasManyRelation resolves every foreign record whose foreign-key property
// equals the host's primary key.
//
// Invalidation is deliberately coarse: any saved event on the foreign type
// re-resolves, not just writes matching the foreign key. A save can move a
// record into or out of the set, so the matching write cannot be decided
// from the event alone.
type HasManyRelation struct {
	relationBase
	foreignKey string
}

func newHasMany(owner *Model, name string, cfg *schema.RelationshipConfig) *HasManyRelation {
	rel := &HasManyRelation{relationBase: newBase(owner, name, schema.HasMany, cfg)}
	rel.self = rel
	return rel
}

// Boot resolves the foreign model; the foreign key defaults to the
// conventional name derived from the host's table and primary key.
func (rel *HasManyRelation) Boot(db *Database) error {
	booted, err := rel.bootBase(db, rel.config.ForeignModel)
	if err != nil || booted {
		return err
	}
	rel.foreignKey = rel.config.ForeignKey
	if rel.foreignKey == "" {
		rel.foreignKey = db.Namer().ForeignKeyName(rel.owner.Table, rel.owner.PrimaryKey)
	}
	return nil
}

// Prepare resolves the relationship for one host. A host without a primary
// key value resolves to an empty set.
func (rel *HasManyRelation) Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error) {
	if err := rel.ensureBooted(host.Model().db); err != nil {
		return nil, err
	}

	st, inFlight := rel.beginPrepare(host)
	if inFlight {
		return st.value, nil
	}

	records := []*Record{}
	if hostPK := host.PrimaryKey(); hostPK != nil {
		rows, err := rel.foreign.Collection().FindManyBy(ctx, rel.foreignKey, []interface{}{hostPK})
		if err != nil {
			rel.abortPrepare(st)
			return nil, err
		}
		for _, values := range rows {
			records = append(records, rel.foreign.Hydrate(values))
		}
	}

	onChange := rel.hookOrDefault(host, em, onChangeDetected)
	old := rel.commit(st, records, func(st *hostState) {
		forForeign := func(msg bus.Message) {
			if msg.Model == rel.foreign.Name {
				onChange()
			}
		}
		rel.watchBus(st, bus.Saved, forForeign)
		rel.watchBus(st, bus.Deleted, forForeign)
		rel.watchBus(st, bus.Truncated, forForeign)
		for _, rec := range records {
			rel.watchForeignRecord(st, em, rec)
		}
	})

	em.NextRelatedChange(rel.name, records, old)
	return records, nil
}
