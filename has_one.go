package quilt

import (
	"context"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
)

// HasOneRelation resolves the single foreign record whose foreign-key
// property equals the host's primary key. Re-entrant Prepare calls for the
// same host are guarded: a call arriving while one is in flight returns the
// current cached value instead of running a second resolution.
type HasOneRelation struct {
	relationBase
	foreignKey string
}

func newHasOne(owner *Model, name string, cfg *schema.RelationshipConfig) *HasOneRelation {
	rel := &HasOneRelation{relationBase: newBase(owner, name, schema.HasOne, cfg)}
	rel.self = rel
	return rel
}

// Boot resolves the foreign model; the foreign key defaults to the
// conventional name derived from the host's table and primary key.
func (rel *HasOneRelation) Boot(db *Database) error {
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
// key value resolves to nil rather than failing.
func (rel *HasOneRelation) Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error) {
	if err := rel.ensureBooted(host.Model().db); err != nil {
		return nil, err
	}

	st, inFlight := rel.beginPrepare(host)
	if inFlight {
		return st.value, nil
	}

	hostPK := host.PrimaryKey()

	var foreignRec *Record
	if hostPK != nil {
		values, err := rel.foreign.Collection().FindBy(ctx, rel.foreignKey, hostPK)
		if err != nil {
			rel.abortPrepare(st)
			return nil, err
		}
		if values != nil {
			foreignRec = rel.foreign.Hydrate(values)
		}
	}

	var value interface{}
	if foreignRec != nil {
		value = foreignRec
	}

	onChange := rel.hookOrDefault(host, em, onChangeDetected)
	old := rel.commit(st, value, func(st *hostState) {
		forForeign := func(msg bus.Message) {
			if msg.Model == rel.foreign.Name {
				onChange()
			}
		}
		rel.watchBus(st, bus.Saved, forForeign)
		rel.watchBus(st, bus.Deleted, forForeign)
		rel.watchBus(st, bus.Truncated, forForeign)
		rel.watchHostProperty(st, em, rel.owner.PrimaryKey, onChange)
		if foreignRec != nil {
			rel.watchForeignRecord(st, em, foreignRec)
		}
	})

	em.NextRelatedChange(rel.name, value, old)
	return value, nil
}
