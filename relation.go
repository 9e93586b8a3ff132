package quilt

import (
	"context"
	"fmt"
	"sync"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/emitter"
	"github.com/quiltdb/quilt/schema"
	"github.com/quiltdb/quilt/utils"
)

// Relation is the lifecycle contract every relationship kind implements.
// One relation instance exists per (model, relationship name) and is shared
// across all host instances of that model; everything that varies per host
// lives in an arena keyed by the host's instance id.
type Relation interface {
	Name() string
	Kind() schema.RelationshipKind

	// Boot binds the relation to concrete models. Idempotent; fails with
	// ErrMissingModel when a referenced type was never registered.
	Boot(db *Database) error

	// Value returns the last cached value for a host. Reading before any
	// successful Prepare for that host fails with ErrUnpreparedRelation;
	// a cached nil (no match) is a legitimate value.
	Value(host *Record) (interface{}, error)

	// Prepare resolves the relationship for one host: it looks the foreign
	// value up in the store, caches it, emits a relationship-keyed change
	// through the emitter, and (re)installs invalidation hooks that call
	// onChangeDetected. A nil onChangeDetected defaults to re-running
	// Prepare, swallowing failures by clearing the cache. Old hooks are
	// always removed before new ones are installed.
	Prepare(ctx context.Context, host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) (interface{}, error)

	// Unref removes every listener installed for a host and drops its
	// cached state.
	Unref(host *Record) error
}

// hostState is one host's slice of a shared relation: cached value,
// teardown closures for installed listeners, and the re-entrancy guard.
type hostState struct {
	hasValue  bool
	value     interface{}
	teardowns []func()
	preparing bool
}

type relationBase struct {
	mu     sync.Mutex
	name   string
	kind   schema.RelationshipKind
	config *schema.RelationshipConfig
	owner  *Model

	// self points at the concrete variant so the base's default
	// invalidation hook re-runs the right Prepare.
	self Relation

	db      *Database
	foreign *Model
	booted  bool

	hosts map[string]*hostState
}

func newBase(owner *Model, name string, kind schema.RelationshipKind, cfg *schema.RelationshipConfig) relationBase {
	return relationBase{
		name:   name,
		kind:   kind,
		config: cfg,
		owner:  owner,
		hosts:  map[string]*hostState{},
	}
}

// Name returns the relationship's key name.
func (b *relationBase) Name() string { return b.name }

// Kind returns the relationship's kind.
func (b *relationBase) Kind() schema.RelationshipKind { return b.kind }

// bootBase binds the relation to the database and, when foreignModel is
// static, resolves the foreign model. No-ops once booted.
func (b *relationBase) bootBase(db *Database, foreignModel string) (alreadyBooted bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.booted {
		return true, nil
	}
	if foreignModel != "" {
		m, err := db.Model(foreignModel)
		if err != nil {
			return false, fmt.Errorf("relationship %s.%s: %w", b.owner.Name, b.name, err)
		}
		b.foreign = m
	}
	b.db = db
	b.booted = true
	return false, nil
}

func (b *relationBase) requireBooted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.booted {
		return fmt.Errorf("%w: %s.%s", ErrNotBooted, b.owner.Name, b.name)
	}
	return nil
}

// ensureBooted boots lazily on first Prepare.
func (b *relationBase) ensureBooted(db *Database) error {
	b.mu.Lock()
	booted := b.booted
	b.mu.Unlock()
	if booted {
		return nil
	}
	return b.self.Boot(db)
}

// Value implements the unprepared-access check shared by all variants.
func (b *relationBase) Value(host *Record) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.hosts[host.InstanceID()]
	if !ok || !st.hasValue {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnpreparedRelation, b.owner.Name, b.name)
	}
	return st.value, nil
}

// Unref removes all listeners installed for a host and forgets its state.
func (b *relationBase) Unref(host *Record) error {
	b.mu.Lock()
	st, ok := b.hosts[host.InstanceID()]
	if ok {
		delete(b.hosts, host.InstanceID())
	}
	b.mu.Unlock()
	if ok {
		runTeardowns(st)
	}
	return nil
}

// beginPrepare enters the per-(relation, host) re-entrancy guard. When a
// Prepare for the same host is already in flight, the caller must return the
// current cached value instead of re-running, which bounds mutual
// invalidation between relationships.
func (b *relationBase) beginPrepare(host *Record) (st *hostState, inFlight bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.hosts[host.InstanceID()]
	if !ok {
		st = &hostState{}
		b.hosts[host.InstanceID()] = st
	}
	if st.preparing {
		return st, true
	}
	st.preparing = true
	return st, false
}

// abortPrepare releases the guard after a failed resolution.
func (b *relationBase) abortPrepare(st *hostState) {
	b.mu.Lock()
	st.preparing = false
	b.mu.Unlock()
}

// detach runs a host's accumulated teardowns without touching its cached
// value. Re-preparation paths that install hookups before commit must call
// this first, so no stale teardown outlives the new hookups.
func (b *relationBase) detach(st *hostState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	runTeardowns(st)
}

// commit swaps the cached value: old listeners are detached first, the new
// value is cached, then install attaches the new hooks. Returns the previous
// cached value (nil when this is the first Prepare for the host).
func (b *relationBase) commit(st *hostState, value interface{}, install func(st *hostState)) (old interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old = st.value
	runTeardowns(st)
	st.value = value
	st.hasValue = true
	if install != nil {
		install(st)
	}
	st.preparing = false
	return old
}

func runTeardowns(st *hostState) {
	teardowns := st.teardowns
	st.teardowns = nil
	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}
}

func (b *relationBase) addTeardown(st *hostState, fn func()) {
	st.teardowns = append(st.teardowns, fn)
}

// watchBus subscribes an invalidation hook on the bus, tracked for teardown.
// Call only from inside a commit install function.
func (b *relationBase) watchBus(st *hostState, event bus.Event, handler bus.Handler) {
	id := b.db.bus.On(event, handler)
	b.addTeardown(st, func() { b.db.bus.Off(event, id) })
}

// watchHostProperty re-resolves when a host property changes.
func (b *relationBase) watchHostProperty(st *hostState, em *emitter.ChangeEmitter, key string, onChange func()) {
	id := em.OnPropertyChange(key, func(emitter.Change) { onChange() })
	b.addTeardown(st, func() { em.OffPropertyChange(key, id) })
}

// watchForeignRecord propagates a cached foreign record's own deltas into
// the host's emitter under this relationship's key.
func (b *relationBase) watchForeignRecord(st *hostState, em *emitter.ChangeEmitter, foreign *Record) {
	id := foreign.OnDelta(func(delta emitter.Delta) {
		em.NextRelatedDelta(b.name, delta)
	})
	b.addTeardown(st, func() { foreign.OffDelta(id) })
}

// defaultOnChange is the invalidation fallback: re-run Prepare for the
// host; if re-resolution fails in the background, clear the cached value to
// nil rather than leaving it stale or throwing inside an event handler.
func (b *relationBase) defaultOnChange(host *Record, em *emitter.ChangeEmitter) func() {
	return func() {
		if _, err := b.self.Prepare(context.Background(), host, em, nil); err != nil {
			b.clearValue(host)
			b.db.log.Warn(context.Background(), "re-resolving %s.%s failed, cache cleared: %v", b.owner.Name, b.name, err)
		}
	}
}

func (b *relationBase) clearValue(host *Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.hosts[host.InstanceID()]; ok {
		st.value = nil
		st.hasValue = true
	}
}

// hookOrDefault resolves the effective invalidation callback.
func (b *relationBase) hookOrDefault(host *Record, em *emitter.ChangeEmitter, onChangeDetected func()) func() {
	if onChangeDetected != nil {
		return onChangeDetected
	}
	return b.defaultOnChange(host, em)
}

// matchKey reports whether a bus message's primary key refers to value.
func matchKey(msgKey, value interface{}) bool {
	return utils.EqualKeys(msgKey, value)
}

// newRelation constructs the concrete variant for a configuration. This is
// the construction-time failure point for malformed configs, including
// through relationships with zero glue steps.
func newRelation(owner *Model, name string, cfg *schema.RelationshipConfig) (Relation, error) {
	if cfg.Kind == schema.HasManyThrough && len(cfg.Glue) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrMissingGlue, owner.Name, name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidConfig, owner.Name, name, err)
	}

	switch cfg.Kind {
	case schema.BelongsTo:
		return newBelongsTo(owner, name, cfg), nil
	case schema.HasOne:
		return newHasOne(owner, name, cfg), nil
	case schema.HasMany:
		return newHasMany(owner, name, cfg), nil
	case schema.MorphTo:
		return newMorphTo(owner, name, cfg), nil
	case schema.MorphOne:
		return newMorphOne(owner, name, cfg), nil
	case schema.MorphMany:
		return newMorphMany(owner, name, cfg), nil
	case schema.HasManyThrough:
		return newHasManyThrough(owner, name, cfg)
	case schema.ManyToMany:
		return newManyToMany(owner, name, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s.%s: unknown kind %q", ErrInvalidConfig, owner.Name, name, cfg.Kind)
	}
}

// flattenRecords normalizes a relationship value (nil, single record or
// record slice) into a slice.
func flattenRecords(value interface{}) []*Record {
	switch v := value.(type) {
	case nil:
		return nil
	case *Record:
		if v == nil {
			return nil
		}
		return []*Record{v}
	case []*Record:
		return v
	default:
		return nil
	}
}
