package quilt

import (
	"context"
	"fmt"
	"strings"

	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
)

// HasManyThroughRelation composes an ordered chain of intermediary
// relationships ("glue"): the first hop prepares against the host, each
// subsequent hop prepares against every record the previous hop produced,
// and the final value flattens the last hop's outputs. An empty intermediate
// result yields an empty final value, not an error. Invalidation is
// delegated to the hops: whatever any hop wires up re-runs the whole chain.
type HasManyThroughRelation struct {
	relationBase
	hops []Relation
}

func newHasManyThrough(owner *Model, name string, cfg *schema.RelationshipConfig) (*HasManyThroughRelation, error) {
	if len(cfg.Glue) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrMissingGlue, owner.Name, name)
	}
	rel := &HasManyThroughRelation{relationBase: newBase(owner, name, schema.HasManyThrough, cfg)}
	rel.self = rel
	return rel, nil
}

// foreignModel exposes the booted foreign model to chain construction.
func (b *relationBase) foreignModel() *Model { return b.foreign }

// Boot instantiates and boots the glue chain once. Each hop's origin is the
// previous hop's foreign model; a hop without a static foreign model cannot
// serve as glue.
func (rel *HasManyThroughRelation) Boot(db *Database) error {
	booted, err := rel.bootBase(db, "")
	if err != nil || booted {
		return err
	}
	hops, last, err := buildChain(db, rel.owner, rel.name, rel.config.Glue)
	if err != nil {
		return err
	}
	rel.hops = hops
	rel.foreign = last
	return nil
}

func buildChain(db *Database, origin *Model, name string, glue []schema.RelationshipConfig) ([]Relation, *Model, error) {
	hops := make([]Relation, 0, len(glue))
	for i := range glue {
		cfg := glue[i]
		hop, err := newRelation(origin, fmt.Sprintf("%s:%d", name, i), &cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := hop.Boot(db); err != nil {
			return nil, nil, err
		}
		next, ok := hop.(interface{ foreignModel() *Model })
		if !ok || next.foreignModel() == nil {
			return nil, nil, fmt.Errorf("%w: %s glue step %d has no static foreign model", ErrInvalidConfig, name, i)
		}
		origin = next.foreignModel()
		hops = append(hops, hop)
	}
	return hops, origin, nil
}

// Prepare walks the chain for one host.
func (rel *HasManyThroughRelation) Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error) {
	return rel.prepareChain(ctx, host, em, onChangeDetected, nil)
}

// prepareChain is shared with ManyToMany, which adds join-table hooks via
// extraInstall.
func (rel *HasManyThroughRelation) prepareChain(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func(), extraInstall func(st *hostState, onChange func())) (interface{}, error) {
	if err := rel.ensureBooted(host.Model().db); err != nil {
		return nil, err
	}
	if len(rel.hops) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotBooted, rel.owner.Name, rel.name)
	}

	st, inFlight := rel.beginPrepare(host)
	if inFlight {
		return st.value, nil
	}

	// The previous run's hookups come down before the walk: a stale hop
	// unref running after it would destroy the hop state the walk is about
	// to install.
	rel.detach(st)

	onChange := rel.hookOrDefault(host, em, onChangeDetected)

	// Hops run against a shadow of the host and hydrated intermediates,
	// emitting through those records' own emitters, so hop-keyed events
	// never reach the host; only the top-level relationship key surfaces.
	// The bridge feeds the host's property deltas into the shadow, so glue
	// watching a host property still re-runs the chain.
	shadow := rel.owner.Hydrate(host.Values())
	bridgeID := em.OnDelta(func(delta emitter.Delta) {
		values := Values{}
		for key, change := range delta {
			if strings.ContainsAny(key, ".:") {
				continue
			}
			values[key] = change.Is
		}
		if len(values) == 0 {
			return
		}
		shadow.SetMany(values)
		shadow.Flush()
	})

	// Every hop invalidation re-runs the whole chain; each run's hop state
	// is torn down by the unref closures carried into the next detach.
	current := []*Record{shadow}
	unrefs := []func(){func() { em.OffDelta(bridgeID) }}
	for _, hop := range rel.hops {
		next := []*Record{}
		for _, intermediate := range current {
			hop, intermediate := hop, intermediate
			value, err := hop.Prepare(ctx, intermediate, intermediate.Emitter(), onChange)
			if err != nil {
				for _, undo := range unrefs {
					undo()
				}
				rel.abortPrepare(st)
				return nil, err
			}
			unrefs = append(unrefs, func() { _ = hop.Unref(intermediate) })
			next = append(next, flattenRecords(value)...)
		}
		current = next
	}

	old := rel.commit(st, current, func(st *hostState) {
		for i := range unrefs {
			rel.addTeardown(st, unrefs[i])
		}
		for _, rec := range current {
			rel.watchForeignRecord(st, em, rec)
		}
		if extraInstall != nil {
			extraInstall(st, onChange)
		}
	})

	em.NextRelatedChange(rel.name, current, old)
	return current, nil
}
