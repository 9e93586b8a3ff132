package quilt

import (
	"context"

	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
)

// MorphManyRelation is the inverse of MorphTo for a set of records: it
// resolves every foreign record whose type/id pair points back at the host.
type MorphManyRelation struct {
	relationBase
	morph morphInverse
}

func newMorphMany(owner *Model, name string, cfg *schema.RelationshipConfig) *MorphManyRelation {
	rel := &MorphManyRelation{relationBase: newBase(owner, name, schema.MorphMany, cfg)}
	rel.self = rel
	return rel
}

// Boot resolves the foreign model and the morph class value matched against
// the foreign type property (defaults to the host model's name).
func (rel *MorphManyRelation) Boot(db *Database) error {
	booted, err := rel.bootBase(db, rel.config.ForeignModel)
	if err != nil || booted {
		return err
	}
	rel.morph = newMorphInverse(&rel.relationBase)
	return nil
}

// Prepare resolves the relationship for one host.
func (rel *MorphManyRelation) Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error) {
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

	onChange := rel.hookOrDefault(host, em, onChangeDetected)
	old := rel.commit(st, records, func(st *hostState) {
		rel.morph.installHooks(st, em, host, records, onChange)
	})

	em.NextRelatedChange(rel.name, records, old)
	return records, nil
}
