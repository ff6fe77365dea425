// Package client implements the composed client-side façades: a
// RegistryClient for registering provided methods, a DiscoverClient for
// resolving and caching providers, an RpcClient that combines either a fixed
// server connection or discovery-driven connection pooling with RpcCaller,
// and a TopicClient for the broker's pub/sub surface.
//
// Each façade owns one requestor.Requestor and one dispatch.Dispatcher per
// connection it drives, wiring them the way the teacher's transport layer
// wires a ClientTransport to its recvLoop: dial, register handlers, start
// the read loop, then expose a narrow call surface.
package client

import (
	"fmt"
	"net"

	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/netconn"
)

// dial opens a TCP connection to addr and wraps it for framed send/receive.
func dial(addr string, codec *frame.Codec) (*netconn.Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return netconn.New(nc, codec), nil
}

// defaultCodec is used by every façade constructor that doesn't take an
// explicit codec; frame.NewCodec(0) selects frame.DefaultMaxSize.
func defaultCodec() *frame.Codec { return frame.NewCodec(0) }

// newDispatcher is a small convenience so each façade's construction reads
// the same way: build the dispatcher, register handlers, hand it to a
// goroutine-driven ReadLoop.
func newDispatcher() *dispatch.Dispatcher { return dispatch.New() }
