// Package rpccaller wraps a requestor.Requestor for the RPC request/response
// pair, offering sync, async (future), and callback call forms.
package rpccaller

import (
	"encoding/json"
	"fmt"
	"log"

	"jrpchub/message"
	"jrpchub/netconn"
	"jrpchub/requestor"
)

// Caller builds RpcRequest frames and unwraps RpcResponse into a JSON result.
type Caller struct {
	requestor *requestor.Requestor
}

// New returns a Caller driven by r.
func New(r *requestor.Requestor) *Caller {
	return &Caller{requestor: r}
}

func newRequest(method string, params any) (*message.RpcRequest, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpccaller: marshal params: %w", err)
	}
	return &message.RpcRequest{Method: method, Params: body}, nil
}

func unwrap(msg message.Message) (json.RawMessage, error) {
	rsp, ok := msg.(*message.RpcResponse)
	if !ok {
		return nil, fmt.Errorf("rpccaller: unexpected response type %T", msg)
	}
	if rsp.Rcode != message.RCodeOK {
		return nil, fmt.Errorf("rpccaller: %w", rsp.Rcode)
	}
	return rsp.Result, nil
}

// Call performs a synchronous RPC: it blocks until the response arrives or
// the connection closes.
func (c *Caller) Call(conn *netconn.Conn, method string, params any) (json.RawMessage, error) {
	req, err := newRequest(method, params)
	if err != nil {
		return nil, err
	}
	msg, err := c.requestor.SendSync(conn, req)
	if err != nil {
		return nil, err
	}
	return unwrap(msg)
}

// Result is the value delivered on an async call's channel: either a decoded
// result or an error (including DISCONNECTED and non-OK rcodes). This
// completes the promise on the error path, which spec.md §9 open question #2
// flags as missing from the source.
type Result struct {
	Value json.RawMessage
	Err   error
}

// CallAsync performs an asynchronous RPC, returning a channel fulfilled
// exactly once with the call's outcome.
func (c *Caller) CallAsync(conn *netconn.Conn, method string, params any) (<-chan Result, error) {
	req, err := newRequest(method, params)
	if err != nil {
		return nil, err
	}
	out := make(chan Result, 1)
	internal, err := c.requestor.SendAsync(conn, req)
	if err != nil {
		return nil, err
	}
	go func() {
		msg := <-internal
		value, err := unwrap(msg)
		out <- Result{Value: value, Err: err}
	}()
	return out, nil
}

// CallCallback performs an RPC whose outcome is delivered to cb. Once the
// request has been sent, cb is invoked exactly once: with (result, nil) on
// success, or (nil, err) on any failure including DISCONNECTED. If the
// params cannot be marshalled or the send fails, that error is returned and
// cb is not invoked.
func (c *Caller) CallCallback(conn *netconn.Conn, method string, params any, cb func(json.RawMessage, error)) error {
	req, err := newRequest(method, params)
	if err != nil {
		return err
	}
	return c.requestor.SendCallback(conn, req, func(msg message.Message) {
		value, err := unwrap(msg)
		if err != nil {
			log.Printf("rpccaller: call to %s failed: %v", method, err)
		}
		cb(value, err)
	})
}
