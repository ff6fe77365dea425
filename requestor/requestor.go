// Package requestor implements the request/response correlation layer:
// one Requestor multiplexes many concurrent logical requests over a single
// connection, keyed by the request's rid, and supports three delivery modes
// (blocking sync, future-style async, and callback).
package requestor

import (
	"log"
	"sync"

	"jrpchub/message"
	"jrpchub/netconn"
	"jrpchub/uuid"
)

// Mode distinguishes how a descriptor's reply is delivered.
type Mode int

const (
	ModeAsync Mode = iota
	ModeCallback
)

// descriptor is the per-in-flight-request bookkeeping entry. done guards
// against acting on it twice, from a racing response and close. conn is the
// connection the request was actually sent on, so Close can fail only the
// descriptors belonging to the connection that dropped.
type descriptor struct {
	rid      string
	conn     *netconn.Conn
	mode     Mode
	replyCh  chan message.Message
	callback func(message.Message)
	once     sync.Once
}

func (d *descriptor) complete(msg message.Message) {
	d.once.Do(func() {
		switch d.mode {
		case ModeAsync:
			d.replyCh <- msg
			close(d.replyCh)
		case ModeCallback:
			d.callback(msg)
		}
	})
}

// Requestor owns the pending table for outgoing requests. A single Requestor
// may be shared across several connections at once (RpcClient's discovery
// mode pools one connection per provider host behind one Requestor, since
// rid is globally unique); each descriptor remembers which connection it was
// sent on so a dropped connection only fails its own in-flight requests.
type Requestor struct {
	mu      sync.Mutex
	pending map[string]*descriptor
}

// New returns an empty Requestor.
func New() *Requestor {
	return &Requestor{pending: make(map[string]*descriptor)}
}

func (r *Requestor) register(d *descriptor) {
	r.mu.Lock()
	r.pending[d.rid] = d
	r.mu.Unlock()
}

func (r *Requestor) take(rid string) (*descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.pending[rid]
	if ok {
		delete(r.pending, rid)
	}
	return d, ok
}

// SendAsync assigns req a fresh rid, registers an ASYNC descriptor, sends the
// frame, and returns a channel that receives exactly one message: the
// matching response, or a synthetic DISCONNECTED RpcResponse if the
// connection closes first.
func (r *Requestor) SendAsync(conn *netconn.Conn, req message.Message) (<-chan message.Message, error) {
	req.SetRid(uuid.New())
	d := &descriptor{rid: req.Rid(), conn: conn, mode: ModeAsync, replyCh: make(chan message.Message, 1)}
	r.register(d)

	if err := conn.Send(req); err != nil {
		r.take(d.rid)
		return nil, err
	}
	return d.replyCh, nil
}

// SendSync is SendAsync followed by a blocking wait on the returned channel.
func (r *Requestor) SendSync(conn *netconn.Conn, req message.Message) (message.Message, error) {
	ch, err := r.SendAsync(conn, req)
	if err != nil {
		return nil, err
	}
	return <-ch, nil
}

// SendCallback assigns req a fresh rid, registers a CALLBACK descriptor, and
// sends the frame. cb runs synchronously on whatever goroutine delivers the
// reply (the connection's read loop, or the close-notification path), never
// while the Requestor's own lock is held.
func (r *Requestor) SendCallback(conn *netconn.Conn, req message.Message, cb func(message.Message)) error {
	req.SetRid(uuid.New())
	d := &descriptor{rid: req.Rid(), conn: conn, mode: ModeCallback, callback: cb}
	r.register(d)

	if err := conn.Send(req); err != nil {
		r.take(d.rid)
		return err
	}
	return nil
}

// OnResponse is the dispatcher handler for response mtypes. It looks up the
// descriptor by the message's rid and completes it. An unmatched rid is an
// orphaned reply: logged and dropped.
func (r *Requestor) OnResponse(conn *netconn.Conn, msg message.Message) {
	d, ok := r.take(msg.Rid())
	if !ok {
		log.Printf("requestor: orphaned reply for rid %s (mtype %v)", msg.Rid(), msg.MType())
		return
	}
	d.complete(msg)
}

// Close fails every outstanding descriptor sent on conn with a synthetic
// DISCONNECTED response, so blocked sync callers wake up and callbacks still
// fire. Registered as the connection's close callback (resolves spec.md §9
// open question #1: the source leaves pending requests unfulfilled on a
// closed connection).
//
// When a single Requestor is shared across several connections (RpcClient's
// discovery-mode pool), only the descriptors belonging to conn are failed —
// calls in flight to other, still-healthy providers are left untouched.
func (r *Requestor) Close(conn *netconn.Conn) {
	r.mu.Lock()
	var failing []*descriptor
	for rid, d := range r.pending {
		if d.conn == conn {
			failing = append(failing, d)
			delete(r.pending, rid)
		}
	}
	r.mu.Unlock()

	disconnected := disconnectedResponse()
	for _, d := range failing {
		d.complete(disconnected)
	}
}

func disconnectedResponse() message.Message {
	rsp := &message.RpcResponse{Rcode: message.RCodeDisconnected}
	return rsp
}

// IsDisconnected reports whether msg is the synthetic response produced when
// a connection closed before a reply arrived.
func IsDisconnected(msg message.Message) bool {
	rsp, ok := msg.(*message.RpcResponse)
	return ok && rsp.Rcode == message.RCodeDisconnected && rsp.Result == nil
}
