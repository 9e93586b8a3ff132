package quilt

import (
	"context"
	"fmt"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
	"github.com/quiltdb/quilt/utils"
)

// MorphToRelation resolves against whichever record type the host names in
// its type property, using the id stored alongside it. The relationship
// value is nil while either property is unset.
type MorphToRelation struct {
	relationBase
	typeKey string
	idKey   string
}

func newMorphTo(owner *Model, name string, cfg *schema.RelationshipConfig) *MorphToRelation {
	rel := &MorphToRelation{relationBase: newBase(owner, name, schema.MorphTo, cfg)}
	rel.self = rel
	return rel
}

// Boot binds to the database. The foreign model is dynamic, so only the
// type/id property names are fixed here; they default to "<name>_type" and
// "<name>_id".
func (rel *MorphToRelation) Boot(db *Database) error {
	booted, err := rel.bootBase(db, "")
	if err != nil || booted {
		return err
	}
	rel.typeKey = rel.config.TypeKey
	if rel.typeKey == "" {
		rel.typeKey = rel.name + "_type"
	}
	rel.idKey = rel.config.IDKey
	if rel.idKey == "" {
		rel.idKey = rel.name + "_id"
	}
	return nil
}

// Prepare resolves the relationship for one host. Naming an unregistered
// type fails with ErrMissingModel; unset type or id resolves to nil.
func (rel *MorphToRelation) Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error) {
	if err := rel.ensureBooted(host.Model().db); err != nil {
		return nil, err
	}

	st, inFlight := rel.beginPrepare(host)
	if inFlight {
		return st.value, nil
	}

	typeName := host.Get(rel.typeKey)
	id := host.Get(rel.idKey)

	var (
		target     *Model
		foreignRec *Record
	)
	if typeName != nil && id != nil {
		var err error
		target, err = rel.db.Model(utils.ToString(typeName))
		if err != nil {
			rel.abortPrepare(st)
			return nil, fmt.Errorf("relationship %s.%s: %w", rel.owner.Name, rel.name, err)
		}
		values, err := target.Collection().Find(ctx, id)
		if err != nil {
			rel.abortPrepare(st)
			return nil, err
		}
		if values != nil {
			foreignRec = target.Hydrate(values)
		}
	}

	var value interface{}
	if foreignRec != nil {
		value = foreignRec
	}

	onChange := rel.hookOrDefault(host, em, onChangeDetected)
	old := rel.commit(st, value, func(st *hostState) {
		if target != nil {
			forTarget := func(msg bus.Message) {
				if msg.Model == target.Name && matchKey(msg.PrimaryKey, id) {
					onChange()
				}
			}
			rel.watchBus(st, bus.Saved, forTarget)
			rel.watchBus(st, bus.Deleted, forTarget)
		}
		rel.watchHostProperty(st, em, rel.typeKey, onChange)
		rel.watchHostProperty(st, em, rel.idKey, onChange)
		if foreignRec != nil {
			rel.watchForeignRecord(st, em, foreignRec)
		}
	})

	em.NextRelatedChange(rel.name, value, old)
	return value, nil
}
