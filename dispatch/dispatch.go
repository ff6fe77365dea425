// Package dispatch routes decoded messages to type-directed handlers.
//
// The original hierarchy dynamic_pointer_casts a polymorphic BaseMessage down
// to the concrete variant a handler expects, shutting the connection down on
// a failed cast. Go has no runtime polymorphic downcast story that fits the
// teacher's codebase, so RegisterHandler uses a generic type parameter: the
// registration itself pins the concrete message.Message implementation a
// handler wants, and dispatch does a checked type assertion in its place.
package dispatch

import (
	"log"
	"sync"

	"jrpchub/message"
	"jrpchub/netconn"
)

// Handler is invoked with the connection a message arrived on and the
// message itself, already matched to the type it was registered for.
type Handler func(conn *netconn.Conn, msg message.Message)

// Dispatcher maps an MType to the single handler registered for it.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[message.MType]Handler
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[message.MType]Handler)}
}

// RegisterHandler installs handler for mtype. T pins the concrete message
// type the handler expects; a decoded message of the wrong concrete type is
// a programming error (the frame codec only ever constructs, via
// message.New, the variant that belongs to the tag), so the assertion failing shuts the
// connection down defensively rather than panicking the dispatch goroutine.
func RegisterHandler[T message.Message](d *Dispatcher, mtype message.MType, handler func(conn *netconn.Conn, msg T)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[mtype] = func(conn *netconn.Conn, msg message.Message) {
		typed, ok := msg.(T)
		if !ok {
			log.Printf("dispatch: message type mismatch for mtype %v, shutting down connection", mtype)
			conn.Close()
			return
		}
		handler(conn, typed)
	}
}

// OnMessage looks up the handler for msg's MType and invokes it. A missing
// handler is treated the same as the source's unhandled-mtype case: the
// connection is shut down defensively.
func (d *Dispatcher) OnMessage(conn *netconn.Conn, msg message.Message) {
	d.mu.Lock()
	h, ok := d.handlers[msg.MType()]
	d.mu.Unlock()

	if !ok {
		log.Printf("dispatch: no handler registered for mtype %v, shutting down connection", msg.MType())
		conn.Close()
		return
	}
	h(conn, msg)
}
