package quilt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/now"

	"github.com/quiltdb/quilt/emitter"
)

// Record is one live instance of a registered record type. Each instance
// carries its own change emitter and a process-unique instance id; all
// per-host relationship state is keyed by that id.
//
// Like its emitter, a Record is confined to one goroutine at a time;
// listeners may re-enter it during event delivery.
type Record struct {
	model      *Model
	instanceID string
	values     Values
	em         *emitter.ChangeEmitter
	prepared   map[string]struct{}
}

// New creates a fresh, unsaved record of this type.
func (m *Model) New(values Values) *Record {
	r := m.Hydrate(nil)
	if values != nil {
		r.SetMany(values)
	}
	return r
}

// Hydrate instantiates a record from stored values without treating them as
// changes.
func (m *Model) Hydrate(values Values) *Record {
	r := &Record{
		model:      m,
		instanceID: uuid.NewString(),
		values:     Values{},
		em:         emitter.New(),
		prepared:   map[string]struct{}{},
	}
	for key, value := range values {
		r.values[key] = value
	}
	r.em.Prime(r.values)
	return r
}

// InstanceID returns the record's process-unique instance identity.
func (r *Record) InstanceID() string {
	return r.instanceID
}

// Model returns the record's type.
func (r *Record) Model() *Model {
	return r.model
}

// PrimaryKey returns the record's primary key value, nil when unset.
func (r *Record) PrimaryKey() interface{} {
	return r.values[r.model.PrimaryKey]
}

// Get returns one property value.
func (r *Record) Get(key string) interface{} {
	return r.values[key]
}

// Set stages one property value. The change is detected and batched by the
// emitter; nothing is published until Flush (or Save, which flushes).
func (r *Record) Set(key string, value interface{}) {
	r.values[key] = value
	r.em.Next(Values{key: value})
}

// SetMany stages several property values at once.
func (r *Record) SetMany(values Values) {
	for key, value := range values {
		r.values[key] = value
	}
	r.em.Next(values)
}

// Values returns a copy of the record's current property values.
func (r *Record) Values() Values {
	out := make(Values, len(r.values))
	for key, value := range r.values {
		out[key] = value
	}
	return out
}

// Flush publishes the batched property changes.
func (r *Record) Flush() {
	r.em.Flush()
}

// Emitter exposes the record's change emitter.
func (r *Record) Emitter() *emitter.ChangeEmitter {
	return r.em
}

// OnChange subscribes to full-snapshot change events.
func (r *Record) OnChange(fn func(is, was Values)) int64 { return r.em.OnChange(fn) }

// OffChange removes a change subscription.
func (r *Record) OffChange(id int64) { r.em.OffChange(id) }

// OnDelta subscribes to delta events.
func (r *Record) OnDelta(fn func(emitter.Delta)) int64 { return r.em.OnDelta(fn) }

// OffDelta removes a delta subscription.
func (r *Record) OffDelta(id int64) { r.em.OffDelta(id) }

// OnPropertyChange subscribes to one property, relationship key or nested
// relationship.property path.
func (r *Record) OnPropertyChange(key string, fn func(emitter.Change)) int64 {
	return r.em.OnPropertyChange(key, fn)
}

// OffPropertyChange removes a per-property subscription.
func (r *Record) OffPropertyChange(key string, id int64) { r.em.OffPropertyChange(key, id) }

// OnError subscribes to failures raised inside other listeners.
func (r *Record) OnError(fn func(error)) int64 { return r.em.OnError(fn) }

// OffError removes an error subscription.
func (r *Record) OffError(id int64) { r.em.OffError(id) }

// Save writes the record through the store, flushes batched changes to this
// instance's subscribers, and publishes saved + storage-mutated on the bus
// so every other live instance and process can react.
func (r *Record) Save(ctx context.Context) error {
	writer, ok := r.model.Collection().(Writer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReadOnlyStore, r.model.Table)
	}

	if r.PrimaryKey() == nil {
		r.Set(r.model.PrimaryKey, uuid.NewString())
	}
	r.touchTimestamps()

	begin := time.Now()
	err := writer.Put(ctx, r.PrimaryKey(), r.Values())
	db := r.model.db
	db.log.Trace(ctx, begin, func() (string, int64) {
		return "save " + r.model.Table, 1
	}, err)
	if err != nil {
		return err
	}

	r.em.Flush()
	db.bus.EmitSaved(r.model.Name, r.PrimaryKey(), r.Values())
	db.bus.EmitStorageMutated(r.model.Name)
	return nil
}

// Delete removes the record from the store and publishes deleted +
// storage-mutated.
func (r *Record) Delete(ctx context.Context) error {
	pk := r.PrimaryKey()
	if pk == nil {
		return fmt.Errorf("%w: %s", ErrMissingPrimaryKey, r.model.Name)
	}
	writer, ok := r.model.Collection().(Writer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReadOnlyStore, r.model.Table)
	}

	begin := time.Now()
	err := writer.Delete(ctx, pk)
	db := r.model.db
	db.log.Trace(ctx, begin, func() (string, int64) {
		return "delete " + r.model.Table, 1
	}, err)
	if err != nil {
		return err
	}

	db.bus.EmitDeleted(r.model.Name, pk)
	db.bus.EmitStorageMutated(r.model.Name)
	return nil
}

// Prepare resolves one relationship for this record, caching its value and
// installing invalidation hooks. Repeated calls re-resolve without
// double-hooking.
func (r *Record) Prepare(ctx context.Context, name string) (interface{}, error) {
	rel, err := r.model.Relation(name)
	if err != nil {
		return nil, err
	}
	value, err := rel.Prepare(ctx, r, r.em, nil)
	if err != nil {
		return nil, err
	}
	r.prepared[name] = struct{}{}
	return value, nil
}

// Related returns a relationship's cached value, preparing it first if this
// instance never has.
func (r *Record) Related(ctx context.Context, name string) (interface{}, error) {
	rel, err := r.model.Relation(name)
	if err != nil {
		return nil, err
	}
	if value, err := rel.Value(r); err == nil {
		return value, nil
	}
	return r.Prepare(ctx, name)
}

// RelationValue returns a relationship's cached value without resolving.
// Reading before the first successful Prepare for this instance is an error.
func (r *Record) RelationValue(name string) (interface{}, error) {
	rel, err := r.model.Relation(name)
	if err != nil {
		return nil, err
	}
	return rel.Value(r)
}

// Unref tears down every listener installed on this record's behalf and
// clears its cached relationship state, so the instance can be collected.
func (r *Record) Unref() error {
	var firstErr error
	for name := range r.prepared {
		rel, err := r.model.Relation(name)
		if err != nil {
			continue
		}
		if err := rel.Unref(r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.prepared = map[string]struct{}{}
	return firstErr
}

// touchTimestamps maintains created_at / updated_at when the record carries
// those properties. String timestamps coming back from a store are coerced
// through now.Parse.
func (r *Record) touchTimestamps() {
	ts := r.model.db.now()
	if current, ok := r.values["created_at"]; ok {
		if current == nil {
			r.Set("created_at", ts)
		} else if s, isStr := current.(string); isStr {
			if parsed, err := now.Parse(s); err == nil {
				r.Set("created_at", parsed)
			}
		}
	}
	if _, ok := r.values["updated_at"]; ok {
		r.Set("updated_at", ts)
	}
}
