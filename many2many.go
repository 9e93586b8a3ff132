package quilt

import (
	"context"
	"fmt"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
)

// ManyToManyRelation is a two-hop through relationship with an implicit glue
// chain: a HasMany into the join table, then a BelongsTo out to the target.
// Join-table and foreign-key names are either supplied or derived by
// convention. On top of the chain's own triggers, any write to the join
// table re-runs the whole chain.
type ManyToManyRelation struct {
	HasManyThroughRelation
	joinModel *Model
}

func newManyToMany(owner *Model, name string, cfg *schema.RelationshipConfig) *ManyToManyRelation {
	rel := &ManyToManyRelation{
		HasManyThroughRelation: HasManyThroughRelation{
			relationBase: newBase(owner, name, schema.ManyToMany, cfg),
		},
	}
	rel.self = rel
	return rel
}

// Boot synthesizes the glue chain. The join table defaults to the
// alphabetized combination of both table names; the two foreign keys default
// to the conventional "<singular>_<primaryKey>" names.
func (rel *ManyToManyRelation) Boot(db *Database) error {
	booted, err := rel.bootBase(db, "")
	if err != nil || booted {
		return err
	}

	target, err := db.Model(rel.config.ForeignModel)
	if err != nil {
		return fmt.Errorf("relationship %s.%s: %w", rel.owner.Name, rel.name, err)
	}

	joinTable := rel.config.JoinTable
	if joinTable == "" {
		joinTable = db.Namer().JoinTableName(rel.owner.Table, target.Table)
	}
	joinModel, err := db.ModelByTable(joinTable)
	if err != nil {
		return fmt.Errorf("relationship %s.%s join table: %w", rel.owner.Name, rel.name, err)
	}
	rel.joinModel = joinModel

	ownerFK := rel.config.ForeignKey
	if ownerFK == "" {
		ownerFK = db.Namer().ForeignKeyName(rel.owner.Table, rel.owner.PrimaryKey)
	}
	targetFK := rel.config.OwnerKey
	if targetFK == "" {
		targetFK = db.Namer().ForeignKeyName(target.Table, target.PrimaryKey)
	}

	glue := []schema.RelationshipConfig{
		{Kind: schema.HasMany, ForeignModel: joinModel.Name, ForeignKey: ownerFK},
		{Kind: schema.BelongsTo, ForeignModel: target.Name, LocalKey: targetFK},
	}
	hops, last, err := buildChain(db, rel.owner, rel.name, glue)
	if err != nil {
		return err
	}
	rel.hops = hops
	rel.foreign = last
	return nil
}

// Prepare walks the chain and additionally subscribes to join-table writes.
func (rel *ManyToManyRelation) Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error) {
	return rel.prepareChain(ctx, host, em, onChangeDetected, func(st *hostState, onChange func()) {
		forJoin := func(msg bus.Message) {
			if msg.Model == rel.joinModel.Name {
				onChange()
			}
		}
		rel.watchBus(st, bus.Saved, forJoin)
		rel.watchBus(st, bus.Deleted, forJoin)
	})
}
