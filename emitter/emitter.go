// Package emitter implements the per-record change emitter: it detects which
// properties changed since the last observation, batches detections, and on
// an explicit Flush fans the batch out as change, delta and per-property
// events. Listener failures are isolated and redirected to error listeners
// so a throwing subscriber can never break delivery or its caller.
package emitter

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Values is a partial or full set of record property values.
type Values map[string]interface{}

// Change is one property's transition within a batch.
type Change struct {
	Is  interface{}
	Was interface{}
}

// Delta maps changed property keys to their transitions.
type Delta map[string]Change

type changeListener struct {
	fn   func(is, was Values)
	once bool
}

type deltaListener struct {
	fn   func(Delta)
	once bool
}

type propListener struct {
	fn   func(Change)
	once bool
}

// ChangeEmitter detects, batches and broadcasts property-level change on one
// record instance. Comparison uses a canonical serialized form of each value,
// so structurally equal values count as unchanged.
//
// A ChangeEmitter is not safe for unsynchronized concurrent use: it belongs
// to one record instance, and listeners may re-enter it during delivery.
// Callers that share a record across goroutines must serialize access at the
// record layer.
type ChangeEmitter struct {
	is         Values
	was        Values
	serialized map[string]string

	pending     map[string]struct{}
	batchWas    Values
	batchWasSer map[string]string

	flushed bool

	nextID      int64
	changeSubs  map[int64]*changeListener
	deltaSubs   map[int64]*deltaListener
	propSubs    map[string]map[int64]*propListener
	errSubs     map[int64]func(error)
}

// New create an empty change emitter.
func New() *ChangeEmitter {
	return &ChangeEmitter{
		is:          Values{},
		was:         Values{},
		serialized:  map[string]string{},
		pending:     map[string]struct{}{},
		batchWas:    Values{},
		batchWasSer: map[string]string{},
		changeSubs:  map[int64]*changeListener{},
		deltaSubs:   map[int64]*deltaListener{},
		propSubs:    map[string]map[int64]*propListener{},
		errSubs:     map[int64]func(error){},
	}
}

func canonical(value interface{}) string {
	if value == nil {
		return "null"
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%#v", value)
	}
	return string(data)
}

// Prime records values as the current observation without marking anything
// pending. Used when hydrating a record from the store, so the hydrated
// values do not count as a change.
func (e *ChangeEmitter) Prime(values Values) {
	for key, value := range values {
		e.is[key] = value
		e.serialized[key] = canonical(value)
	}
}

// Next observes a partial set of values. Each property whose canonical form
// differs from the last known value is marked pending; nothing is emitted
// until Flush. A property already pending keeps the previous value recorded
// at its first detection in the batch.
func (e *ChangeEmitter) Next(values Values) {
	for key, value := range values {
		ser := canonical(value)
		if ser == e.serialized[key] {
			e.is[key] = value
			continue
		}
		if _, already := e.pending[key]; !already {
			e.pending[key] = struct{}{}
			e.batchWas[key] = e.is[key]
			e.batchWasSer[key] = e.serialized[key]
		}
		e.is[key] = value
		e.serialized[key] = ser
	}
}

// Flush publishes the pending batch: one change event with full current and
// previous snapshots, one delta event with only the changed keys, then one
// per-property event per changed key, in that order. A flush with nothing
// pending emits nothing. Properties that were reverted to their first
// observed value within the batch are dropped.
func (e *ChangeEmitter) Flush() {
	if len(e.pending) == 0 {
		return
	}

	changed := make([]string, 0, len(e.pending))
	for key := range e.pending {
		if e.serialized[key] != e.batchWasSer[key] {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)

	delta := Delta{}
	for _, key := range changed {
		delta[key] = Change{Is: e.is[key], Was: e.batchWas[key]}
	}

	isSnap := make(Values, len(e.is))
	for key, value := range e.is {
		isSnap[key] = value
	}

	var wasSnap Values
	if e.flushed || e.anyPreviousDefined() {
		wasSnap = make(Values, len(e.is))
		for key, value := range e.is {
			wasSnap[key] = value
		}
		for key, value := range e.was {
			wasSnap[key] = value
		}
		for _, key := range changed {
			wasSnap[key] = e.batchWas[key]
		}
	}

	for _, key := range changed {
		e.was[key] = e.batchWas[key]
	}
	e.pending = map[string]struct{}{}
	e.batchWas = Values{}
	e.batchWasSer = map[string]string{}

	if len(changed) == 0 {
		return
	}
	e.flushed = true

	e.emitChange(isSnap, wasSnap)
	e.emitDelta(delta)
	for _, key := range changed {
		e.emitProperty(key, delta[key])
	}
}

func (e *ChangeEmitter) anyPreviousDefined() bool {
	for key := range e.pending {
		if e.batchWas[key] != nil {
			return true
		}
	}
	for _, value := range e.was {
		if value != nil {
			return true
		}
	}
	return false
}

// NextRelatedChange injects a synthetic change keyed by relationship name.
// Relationship changes bypass the batching path and are delivered
// immediately, as a single-key delta plus a per-property event.
func (e *ChangeEmitter) NextRelatedChange(relationshipKey string, is, was interface{}) {
	change := Change{Is: is, Was: was}
	e.emitDelta(Delta{relationshipKey: change})
	e.emitProperty(relationshipKey, change)
}

// NextRelatedDelta fans a related record's delta out under the relationship
// key: each nested property is delivered as relationshipKey.propertyKey.
func (e *ChangeEmitter) NextRelatedDelta(relationshipKey string, delta Delta) {
	if len(delta) == 0 {
		return
	}
	namespaced := make(Delta, len(delta))
	keys := make([]string, 0, len(delta))
	for key, change := range delta {
		namespaced[relationshipKey+"."+key] = change
		keys = append(keys, key)
	}
	sort.Strings(keys)

	e.emitDelta(namespaced)
	for _, key := range keys {
		e.emitProperty(relationshipKey+"."+key, delta[key])
	}
}

// OnChange subscribes to full-snapshot change events.
func (e *ChangeEmitter) OnChange(fn func(is, was Values)) int64 {
	id := e.id()
	e.changeSubs[id] = &changeListener{fn: fn}
	return id
}

// OnceChange subscribes to the next change event only.
func (e *ChangeEmitter) OnceChange(fn func(is, was Values)) int64 {
	id := e.id()
	e.changeSubs[id] = &changeListener{fn: fn, once: true}
	return id
}

// OffChange removes a change subscription.
func (e *ChangeEmitter) OffChange(id int64) {
	delete(e.changeSubs, id)
}

// OnDelta subscribes to delta events.
func (e *ChangeEmitter) OnDelta(fn func(Delta)) int64 {
	id := e.id()
	e.deltaSubs[id] = &deltaListener{fn: fn}
	return id
}

// OnceDelta subscribes to the next delta event only.
func (e *ChangeEmitter) OnceDelta(fn func(Delta)) int64 {
	id := e.id()
	e.deltaSubs[id] = &deltaListener{fn: fn, once: true}
	return id
}

// OffDelta removes a delta subscription.
func (e *ChangeEmitter) OffDelta(id int64) {
	delete(e.deltaSubs, id)
}

// OnPropertyChange subscribes to changes of one property, relationship key,
// or nested relationship.property path.
func (e *ChangeEmitter) OnPropertyChange(key string, fn func(Change)) int64 {
	id := e.id()
	if e.propSubs[key] == nil {
		e.propSubs[key] = map[int64]*propListener{}
	}
	e.propSubs[key][id] = &propListener{fn: fn}
	return id
}

// OncePropertyChange subscribes to the next change of one property only.
func (e *ChangeEmitter) OncePropertyChange(key string, fn func(Change)) int64 {
	id := e.id()
	if e.propSubs[key] == nil {
		e.propSubs[key] = map[int64]*propListener{}
	}
	e.propSubs[key][id] = &propListener{fn: fn, once: true}
	return id
}

// OffPropertyChange removes a per-property subscription.
func (e *ChangeEmitter) OffPropertyChange(key string, id int64) {
	if subs := e.propSubs[key]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(e.propSubs, key)
		}
	}
}

// OnError subscribes to errors raised inside other listeners.
func (e *ChangeEmitter) OnError(fn func(error)) int64 {
	id := e.id()
	e.errSubs[id] = fn
	return id
}

// OffError removes an error subscription.
func (e *ChangeEmitter) OffError(id int64) {
	delete(e.errSubs, id)
}

// Value reports the current known value of a property.
func (e *ChangeEmitter) Value(key string) (interface{}, bool) {
	value, ok := e.is[key]
	return value, ok
}

func (e *ChangeEmitter) id() int64 {
	e.nextID++
	return e.nextID
}

func (e *ChangeEmitter) emitChange(is, was Values) {
	for _, id := range sortedIDs(e.changeSubs) {
		sub, ok := e.changeSubs[id]
		if !ok {
			continue
		}
		if sub.once {
			delete(e.changeSubs, id)
		}
		e.safeCall(func() { sub.fn(is, was) })
	}
}

func (e *ChangeEmitter) emitDelta(delta Delta) {
	for _, id := range sortedIDs(e.deltaSubs) {
		sub, ok := e.deltaSubs[id]
		if !ok {
			continue
		}
		if sub.once {
			delete(e.deltaSubs, id)
		}
		e.safeCall(func() { sub.fn(delta) })
	}
}

func (e *ChangeEmitter) emitProperty(key string, change Change) {
	subs := e.propSubs[key]
	if subs == nil {
		return
	}
	for _, id := range sortedIDs(subs) {
		sub, ok := subs[id]
		if !ok {
			continue
		}
		if sub.once {
			e.OffPropertyChange(key, id)
		}
		e.safeCall(func() { sub.fn(change) })
	}
}

// safeCall invokes one listener; a panic is captured and re-delivered to the
// error listeners instead of propagating. A panic inside an error listener
// is swallowed so errors cannot storm recursively.
func (e *ChangeEmitter) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("listener failure: %v", r)
			}
			for _, id := range sortedIDs(e.errSubs) {
				handler, ok := e.errSubs[id]
				if !ok {
					continue
				}
				func() {
					defer func() { _ = recover() }()
					handler(err)
				}()
			}
		}
	}()
	fn()
}

func sortedIDs[T any](subs map[int64]T) []int64 {
	ids := make([]int64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
