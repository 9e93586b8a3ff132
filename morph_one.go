package quilt

import (
	"context"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
)

// MorphOneRelation is the inverse of MorphTo for a single record: the
// foreign record stores a type/id pair pointing back at the host, and the
// relationship resolves to the first foreign record whose id property equals
// the host's primary key and whose type property names the host's type.
type MorphOneRelation struct {
	relationBase
	morph morphInverse
}

func newMorphOne(owner *Model, name string, cfg *schema.RelationshipConfig) *MorphOneRelation {
	rel := &MorphOneRelation{relationBase: newBase(owner, name, schema.MorphOne, cfg)}
	rel.self = rel
	return rel
}

// Boot resolves the foreign model and the morph class value matched against
// the foreign type property (defaults to the host model's name).
func (rel *MorphOneRelation) Boot(db *Database) error {
	booted, err := rel.bootBase(db, rel.config.ForeignModel)
	if err != nil || booted {
		return err
	}
	rel.morph = newMorphInverse(&rel.relationBase)
	return nil
}

// Prepare resolves the relationship for one host.
func (rel *MorphOneRelation) Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error) {
	if err := rel.ensureBooted(host.Model().db); err != nil {
		return nil, err
	}

	st, inFlight := rel.beginPrepare(host)
	if inFlight {
		return st.value, nil
	}

	records, err := rel.morph.resolve(ctx, host)
	if err != nil {
		rel.abortPrepare(st)
		return nil, err
	}

	var (
		value      interface{}
		foreignRec *Record
	)
	if len(records) > 0 {
		foreignRec = records[0]
		value = foreignRec
	}

	onChange := rel.hookOrDefault(host, em, onChangeDetected)
	old := rel.commit(st, value, func(st *hostState) {
		rel.morph.installHooks(st, em, host, records, onChange)
	})

	em.NextRelatedChange(rel.name, value, old)
	return value, nil
}

// morphInverse is the resolution and invalidation logic MorphOne and
// MorphMany share.
type morphInverse struct {
	base       *relationBase
	typeKey    string
	idKey      string
	morphClass string
}

func newMorphInverse(base *relationBase) morphInverse {
	m := morphInverse{
		base:       base,
		typeKey:    base.config.TypeKey,
		idKey:      base.config.IDKey,
		morphClass: base.config.MorphClass,
	}
	if m.morphClass == "" {
		m.morphClass = base.owner.Name
	}
	return m
}

// resolve finds every foreign record pointing back at the host. A host
// without a primary key resolves to an empty set.
func (m *morphInverse) resolve(ctx context.Context, host *Record) ([]*Record, error) {
	hostPK := host.PrimaryKey()
	if hostPK == nil {
		return []*Record{}, nil
	}

	rows, err := m.base.foreign.Collection().FindManyBy(ctx, m.idKey, []interface{}{hostPK})
	if err != nil {
		return nil, err
	}

	records := []*Record{}
	for _, values := range rows {
		if typeVal, ok := values[m.typeKey]; ok && matchKey(typeVal, m.morphClass) {
			records = append(records, m.base.foreign.Hydrate(values))
		}
	}
	return records, nil
}

// installHooks wires bus invalidation: a save carrying the host's id in the
// morph id property, or any write matching an already-cached foreign
// record's primary key, re-resolves.
func (m *morphInverse) installHooks(st *hostState, em *emitter.ChangeEmitter, host *Record, cached []*Record, onChange func()) {
	hostPK := host.PrimaryKey()

	matchesCached := func(primaryKey interface{}) bool {
		for _, rec := range cached {
			if matchKey(primaryKey, rec.PrimaryKey()) {
				return true
			}
		}
		return false
	}

	m.base.watchBus(st, bus.Saved, func(msg bus.Message) {
		if msg.Model != m.base.foreign.Name {
			return
		}
		if hostPK != nil && matchKey(msg.Values[m.idKey], hostPK) {
			onChange()
			return
		}
		if matchesCached(msg.PrimaryKey) {
			onChange()
		}
	})
	m.base.watchBus(st, bus.Deleted, func(msg bus.Message) {
		if msg.Model != m.base.foreign.Name {
			return
		}
		if matchesCached(msg.PrimaryKey) {
			onChange()
		}
	})

	for _, rec := range cached {
		m.base.watchForeignRecord(st, em, rec)
	}
}
