// Package bus implements the process-wide mutation-event multiplexer. Every
// locally originated emission is delivered to in-process subscribers and
// forwarded to the external cross-process transport; events received from
// the transport are re-published locally as if they originated in-process.
// This is the only channel relationships use to learn about writes made by
// other record instances or other processes.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/quiltdb/quilt/logger"
)

// Event is a mutation event name.
type Event string

const (
	// Saved a record was written
	Saved Event = "saved"
	// Deleted a record was removed
	Deleted Event = "deleted"
	// Truncated every record of a type was removed
	Truncated Event = "truncated"
	// StorageMutated local-only signal that the underlying storage changed
	// in some way; consumed by non-core code and never forwarded
	StorageMutated Event = "storage-mutated"
)

// Message is one mutation notification.
type Message struct {
	Event      Event
	Model      string
	PrimaryKey interface{}
	Values     map[string]interface{}
}

// Handler receives bus messages.
type Handler func(Message)

// Transport is the external cross-process channel ("swarm"). Outbound
// messages go through Send; the transport delivers inbound messages by
// calling the Receive method of the bus it was attached to.
type Transport interface {
	Send(Message) error
}

// Bus is the process-wide publish/subscribe channel. It is created with the
// database and torn down with it; after Close all emissions are dropped.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Event]map[int64]Handler
	nextID    int64
	transport Transport
	closed    bool
	log       logger.Interface
}

// New create a bus. A nil log falls back to the default logger.
func New(log logger.Interface) *Bus {
	if log == nil {
		log = logger.Default
	}
	return &Bus{
		subs: map[Event]map[int64]Handler{},
		log:  log,
	}
}

// AttachTransport connects the external transport. Subsequent local
// emissions of saved, deleted and truncated are forwarded to it.
func (b *Bus) AttachTransport(t Transport) {
	b.mu.Lock()
	b.transport = t
	b.mu.Unlock()
}

// On subscribes a handler to an event and returns its subscription id.
func (b *Bus) On(event Event, handler Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.subs[event] == nil {
		b.subs[event] = map[int64]Handler{}
	}
	b.subs[event][b.nextID] = handler
	return b.nextID
}

// Off removes a subscription.
func (b *Bus) Off(event Event, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.subs[event]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subs, event)
		}
	}
}

// Emit publishes a locally originated message to all local subscribers and
// forwards it to the transport, if one is attached. StorageMutated stays
// local.
func (b *Bus) Emit(msg Message) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	transport := b.transport
	b.mu.RUnlock()

	b.dispatch(msg)

	if transport != nil && msg.Event != StorageMutated {
		if err := transport.Send(msg); err != nil {
			b.log.Warn(context.Background(), "bus transport send failed for %s %s: %v", string(msg.Event), msg.Model, err)
		}
	}
}

// Receive re-publishes an inbound transport message locally. It is never
// echoed back out to the transport.
func (b *Bus) Receive(msg Message) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	b.dispatch(msg)
}

func (b *Bus) dispatch(msg Message) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[msg.Event]))
	for _, h := range b.subs[msg.Event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, msg)
	}
}

// invoke runs one handler, isolating panics so a failing subscriber cannot
// halt delivery to the rest.
func (b *Bus) invoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error(context.Background(), "bus handler panic on %s %s: %v", string(msg.Event), msg.Model, fmt.Sprint(r))
		}
	}()
	h(msg)
}

// EmitSaved publishes a saved event for one record.
func (b *Bus) EmitSaved(model string, primaryKey interface{}, values map[string]interface{}) {
	b.Emit(Message{Event: Saved, Model: model, PrimaryKey: primaryKey, Values: values})
}

// EmitDeleted publishes a deleted event for one record.
func (b *Bus) EmitDeleted(model string, primaryKey interface{}) {
	b.Emit(Message{Event: Deleted, Model: model, PrimaryKey: primaryKey})
}

// EmitTruncated publishes a truncated event for a record type.
func (b *Bus) EmitTruncated(model string) {
	b.Emit(Message{Event: Truncated, Model: model})
}

// EmitStorageMutated publishes the local-only storage mutation signal.
func (b *Bus) EmitStorageMutated(model string) {
	b.Emit(Message{Event: StorageMutated, Model: model})
}

// Close drops all subscriptions and detaches the transport.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[Event]map[int64]Handler{}
	b.transport = nil
}
