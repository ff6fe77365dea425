package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/netconn"
	"jrpchub/requestor"
	"jrpchub/rpccaller"
)

// RpcClient is the composite RPC client described in spec.md §4.9: either a
// single permanent connection to a fixed server (direct mode), or a
// discovery-backed pool of lazily-opened connections to whatever host the
// registry resolves a method to (discovery mode).
//
// A single requestor.Requestor and rpccaller.Caller are shared across every
// connection this client opens: rid is globally unique (package uuid), so
// one pending table correctly demultiplexes replies regardless of which
// connection they arrive on. Each pooled connection's close callback still
// calls requestor.Close scoped to that connection, so a dropped provider
// fails only its own in-flight calls with DISCONNECTED rather than every
// call pending across the whole pool.
type RpcClient struct {
	enableDiscover bool
	codec          *frame.Codec
	requestor      *requestor.Requestor
	caller         *rpccaller.Caller

	direct *netconn.Conn // direct mode only

	discover *DiscoverClient // discovery mode only

	mu    sync.Mutex // protects conns (discovery mode only)
	conns map[message.Address]*netconn.Conn
}

// NewDirectRpcClient connects straight to a known RPC server address,
// bypassing the registry.
func NewDirectRpcClient(addr string) (*RpcClient, error) {
	codec := defaultCodec()
	conn, err := dial(addr, codec)
	if err != nil {
		return nil, err
	}

	req := requestor.New()
	d := newDispatcher()
	dispatch.RegisterHandler[*message.RpcResponse](d, message.RspRPC, req.OnResponse)
	conn.OnClose(req.Close)
	go conn.ReadLoop(d.OnMessage)

	return &RpcClient{
		enableDiscover: false,
		codec:          codec,
		requestor:      req,
		caller:         rpccaller.New(req),
		direct:         conn,
	}, nil
}

// NewDiscoverRpcClient resolves providers through the registry at
// registryAddr, opening and caching one connection per distinct provider
// host it is routed to.
func NewDiscoverRpcClient(registryAddr string) (*RpcClient, error) {
	codec := defaultCodec()
	req := requestor.New()

	rc := &RpcClient{
		enableDiscover: true,
		codec:          codec,
		requestor:      req,
		caller:         rpccaller.New(req),
		conns:          make(map[message.Address]*netconn.Conn),
	}

	dc, err := NewDiscoverClientCodec(registryAddr, rc.removeConn, codec)
	if err != nil {
		return nil, err
	}
	rc.discover = dc
	return rc, nil
}

// Call performs a synchronous RPC against whichever connection method
// resolves to.
func (c *RpcClient) Call(method string, params any) (json.RawMessage, error) {
	conn, err := c.connFor(method)
	if err != nil {
		return nil, err
	}
	return c.caller.Call(conn, method, params)
}

// CallAsync performs an asynchronous RPC; see rpccaller.Caller.CallAsync.
func (c *RpcClient) CallAsync(method string, params any) (<-chan rpccaller.Result, error) {
	conn, err := c.connFor(method)
	if err != nil {
		return nil, err
	}
	return c.caller.CallAsync(conn, method, params)
}

// CallCallback performs a callback-style RPC; see rpccaller.Caller.CallCallback.
func (c *RpcClient) CallCallback(method string, params any, cb func(json.RawMessage, error)) error {
	conn, err := c.connFor(method)
	if err != nil {
		return err
	}
	return c.caller.CallCallback(conn, method, params, cb)
}

// connFor resolves method to the connection it should be sent on: the fixed
// server in direct mode, or a lazily-opened pooled connection to the
// discovered provider host in discovery mode (spec.md §4.9 steps 2-3).
func (c *RpcClient) connFor(method string) (*netconn.Conn, error) {
	if !c.enableDiscover {
		return c.direct, nil
	}

	host, err := c.discover.Discover(method)
	if err != nil {
		return nil, fmt.Errorf("client: no provider for %s: %w", method, err)
	}

	c.mu.Lock()
	conn, ok := c.conns[host]
	c.mu.Unlock()
	if ok {
		return conn, nil
	}
	return c.newConn(host)
}

// newConn opens and caches a connection to host. Two concurrent callers can
// race here and each dial their own connection; the loser's dial is closed
// immediately and the winner's is kept, matching the "put wins" semantics of
// the source's putClient.
func (c *RpcClient) newConn(host message.Address) (*netconn.Conn, error) {
	conn, err := dial(host.String(), c.codec)
	if err != nil {
		return nil, err
	}

	d := newDispatcher()
	dispatch.RegisterHandler[*message.RpcResponse](d, message.RspRPC, c.requestor.OnResponse)
	// The requestor is shared across every pooled connection (rid is globally
	// unique), so failing pending descriptors on close must be scoped to this
	// connection: closing conn must not fail calls in flight to other, still
	// healthy providers. The pool entry is dropped only if it is this very
	// connection, so closing a race loser leaves the winner in place.
	conn.OnClose(func(closed *netconn.Conn) {
		c.requestor.Close(closed)
		c.mu.Lock()
		if c.conns[host] == closed {
			delete(c.conns, host)
		}
		c.mu.Unlock()
	})
	go conn.ReadLoop(d.OnMessage)

	c.mu.Lock()
	if existing, ok := c.conns[host]; ok {
		c.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	c.conns[host] = conn
	c.mu.Unlock()

	return conn, nil
}

// removeConn drops the cached connection to host, if any, and closes it.
// Installed as the DiscoverClient's OfflineCallback so an OUTLINE push tears
// down the connection the source's Discover::onServiceRequest only
// invalidates in the host cache (spec.md §4.9: "invoke the offline callback,
// which tears down and removes the cached connection").
func (c *RpcClient) removeConn(host message.Address) {
	c.mu.Lock()
	conn, ok := c.conns[host]
	if ok {
		delete(c.conns, host)
	}
	c.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Close tears down every connection this client holds.
func (c *RpcClient) Close() error {
	if !c.enableDiscover {
		return c.direct.Close()
	}
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[message.Address]*netconn.Conn)
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	return c.discover.Close()
}
