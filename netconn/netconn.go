// Package netconn wraps a net.Conn with the send/shutdown/connected surface
// the rest of the system builds on, serializing writes so concurrent senders
// never interleave frames on the wire (the same discipline the teacher's
// transport package applies with its sending mutex).
package netconn

import (
	"log"
	"net"
	"sync"

	"jrpchub/frame"
	"jrpchub/message"
)

// CloseCallback fires exactly once when a Conn tears down, whether by local
// Close or by the peer dropping the connection.
type CloseCallback func(*Conn)

// Conn is the connection abstraction every role (provider, caller, registry,
// broker) sends through and dispatches from.
type Conn struct {
	nc       net.Conn
	codec    *frame.Codec
	writeMu  sync.Mutex
	closeMu  sync.Once
	closed   chan struct{}
	onClose  CloseCallback
	identity any // manager-assigned back-reference (Provider, Discoverer, Subscriber, ...)
}

// New wraps nc. codec governs both the max frame size and the wire format.
func New(nc net.Conn, codec *frame.Codec) *Conn {
	return &Conn{
		nc:     nc,
		codec:  codec,
		closed: make(chan struct{}),
	}
}

// OnClose registers the callback invoked when the connection tears down.
func (c *Conn) OnClose(cb CloseCallback) { c.onClose = cb }

// SetIdentity stashes an owner-defined back-reference (e.g. a registry
// Provider record) on the connection, per the back-reference design note.
func (c *Conn) SetIdentity(v any) { c.identity = v }

// Identity returns whatever SetIdentity last stored, or nil.
func (c *Conn) Identity() any { return c.identity }

// Send encodes and writes m as a single frame. Safe for concurrent use.
func (c *Conn) Send(m message.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteTo(c.nc, m)
}

// RemoteAddr returns the address of the connected peer.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Connected reports whether the connection has not yet been closed.
func (c *Conn) Connected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the connection tears down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Close shuts down the underlying connection and fires the close callback
// exactly once, regardless of how many times Close is called or whether the
// peer closed first.
func (c *Conn) Close() error {
	err := c.nc.Close()
	c.closeMu.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}

// ReadLoop blocks reading frames from the connection and invokes handle for
// each decoded message, until the connection errors or is closed. It always
// ends by calling Close so the registered close callback fires.
func (c *Conn) ReadLoop(handle func(*Conn, message.Message)) {
	defer c.Close()
	for {
		m, err := c.codec.DecodeStream(c.nc)
		if err != nil {
			if c.Connected() {
				log.Printf("netconn: read from %s failed: %v", c.RemoteAddr(), err)
			}
			return
		}
		handle(c, m)
	}
}
