package quilt

import (
	"context"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
)

// BelongsToRelation resolves the foreign record whose owner key equals the
// value of a lookup property on the host.
type BelongsToRelation struct {
	relationBase
	localKey string
	ownerKey string
}

func newBelongsTo(owner *Model, name string, cfg *schema.RelationshipConfig) *BelongsToRelation {
	rel := &BelongsToRelation{relationBase: newBase(owner, name, schema.BelongsTo, cfg)}
	rel.self = rel
	return rel
}

// Boot resolves the foreign model and fills in key-name defaults: the owner
// key defaults to the foreign primary key, the lookup property to the
// conventional foreign-key name ("user_id" for users.id).
func (rel *BelongsToRelation) Boot(db *Database) error {
	booted, err := rel.bootBase(db, rel.config.ForeignModel)
	if err != nil || booted {
		return err
	}
	rel.ownerKey = rel.config.OwnerKey
	if rel.ownerKey == "" {
		rel.ownerKey = rel.foreign.PrimaryKey
	}
	rel.localKey = rel.config.LocalKey
	if rel.localKey == "" {
		rel.localKey = db.Namer().ForeignKeyName(rel.foreign.Table, rel.ownerKey)
	}
	return nil
}

// Prepare resolves the relationship for one host. A host missing the lookup
// value resolves to nil rather than failing.
func (rel *BelongsToRelation) Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error) {
	if err := rel.ensureBooted(host.Model().db); err != nil {
		return nil, err
	}

	st, inFlight := rel.beginPrepare(host)
	if inFlight {
		return st.value, nil
	}

	lookup := host.Get(rel.localKey)

	var foreignRec *Record
	if lookup != nil {
		var (
			values Values
			err    error
		)
		if rel.ownerKey == rel.foreign.PrimaryKey {
			values, err = rel.foreign.Collection().Find(ctx, lookup)
		} else {
			values, err = rel.foreign.Collection().FindBy(ctx, rel.ownerKey, lookup)
		}
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
		rel.watchBus(st, bus.Saved, func(msg bus.Message) {
			if msg.Model != rel.foreign.Name || lookup == nil {
				return
			}
			key := msg.PrimaryKey
			if rel.ownerKey != rel.foreign.PrimaryKey {
				key = msg.Values[rel.ownerKey]
			}
			if matchKey(key, lookup) {
				onChange()
			}
		})
		rel.watchBus(st, bus.Deleted, func(msg bus.Message) {
			if msg.Model != rel.foreign.Name {
				return
			}
			if foreignRec != nil && matchKey(msg.PrimaryKey, foreignRec.PrimaryKey()) {
				onChange()
				return
			}
			if lookup != nil && rel.ownerKey == rel.foreign.PrimaryKey && matchKey(msg.PrimaryKey, lookup) {
				onChange()
			}
		})
		rel.watchHostProperty(st, em, rel.localKey, onChange)
		if foreignRec != nil {
			rel.watchForeignRecord(st, em, foreignRec)
		}
	})

	em.NextRelatedChange(rel.name, value, old)
	return value, nil
}
