package client

import (
	"fmt"

	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/hostcache"
	"jrpchub/loadbalance"
	"jrpchub/message"
	"jrpchub/netconn"
	"jrpchub/requestor"
)

// OfflineCallback fires when a previously-known provider of some method
// drops offline, so the caller can tear down any cached connection to it.
type OfflineCallback func(host message.Address)

// DiscoverClient is the service-consumer side of the registry protocol: it
// resolves a method to a provider host, caches the result, and reacts to the
// registry's ONLINE/OUTLINE pushes (spec.md §4.6 DISCOVER, §4.9).
//
// The source (original_source/source/client/rpc_client.hpp) registers the
// REQ_SERVICE push handler under the RSP_SERVICE response callback instead
// of Discover.onServiceRequest — a copy-paste bug that means ONLINE/OUTLINE
// notices are silently swallowed by the requestor as orphaned replies. This
// resolves spec.md §9 open question #4 by registering each handler under
// its own mtype.
type DiscoverClient struct {
	conn      *netconn.Conn
	requestor *requestor.Requestor
	cache     *hostcache.Cache
	offline   OfflineCallback
}

// NewDiscoverClient dials the registry at addr and wires both the response
// dispatcher (RSP_SERVICE → requestor) and the push dispatcher (REQ_SERVICE
// → ONLINE/OUTLINE handling). offCb may be nil.
func NewDiscoverClient(addr string, offCb OfflineCallback) (*DiscoverClient, error) {
	return NewDiscoverClientCodec(addr, offCb, defaultCodec())
}

// NewDiscoverClientCodec is NewDiscoverClient with an explicit frame codec.
func NewDiscoverClientCodec(addr string, offCb OfflineCallback, codec *frame.Codec) (*DiscoverClient, error) {
	return newDiscoverClient(addr, offCb, codec, hostcache.New())
}

// NewDiscoverClientBalanced is NewDiscoverClient with a custom per-method
// host selection strategy (e.g. loadbalance.ConsistentHashBalancer for
// session affinity to a stateful provider) in place of the default
// round-robin cache.
func NewDiscoverClientBalanced(addr string, offCb OfflineCallback, newBalancer func() loadbalance.Balancer) (*DiscoverClient, error) {
	return newDiscoverClient(addr, offCb, defaultCodec(), hostcache.NewWithBalancer(newBalancer))
}

func newDiscoverClient(addr string, offCb OfflineCallback, codec *frame.Codec, cache *hostcache.Cache) (*DiscoverClient, error) {
	conn, err := dial(addr, codec)
	if err != nil {
		return nil, err
	}

	dc := &DiscoverClient{
		conn:      conn,
		requestor: requestor.New(),
		cache:     cache,
		offline:   offCb,
	}

	d := newDispatcher()
	dispatch.RegisterHandler[*message.ServiceResponse](d, message.RspService, dc.requestor.OnResponse)
	dispatch.RegisterHandler[*message.ServiceRequest](d, message.ReqService, dc.onServiceRequest)
	conn.OnClose(dc.requestor.Close)

	go conn.ReadLoop(d.OnMessage)

	return dc, nil
}

// Discover resolves method to a provider host, using the local cache first
// and only issuing a DISCOVER request on a cache miss (spec.md §4.9 step 1-2).
func (c *DiscoverClient) Discover(method string) (message.Address, error) {
	if host, ok := c.cache.Select(method); ok {
		return host, nil
	}

	req := &message.ServiceRequest{Method: method, Optype: message.ServiceDiscover}
	msg, err := c.requestor.SendSync(c.conn, req)
	if err != nil {
		return message.Address{}, err
	}
	rsp, ok := msg.(*message.ServiceResponse)
	if !ok {
		return message.Address{}, fmt.Errorf("client: unexpected discover response type %T", msg)
	}
	if rsp.Rcode != message.RCodeOK {
		return message.Address{}, fmt.Errorf("client: discover %s: %w", method, rsp.Rcode)
	}

	c.cache.Install(method, rsp.Hosts)
	host, ok := c.cache.Select(method)
	if !ok {
		return message.Address{}, fmt.Errorf("client: discover %s: empty host list", method)
	}
	return host, nil
}

// onServiceRequest handles the registry's pushed ONLINE/OUTLINE notices.
func (c *DiscoverClient) onServiceRequest(_ *netconn.Conn, req *message.ServiceRequest) {
	switch req.Optype {
	case message.ServiceOnline:
		c.cache.AddHost(req.Method, *req.Host)
	case message.ServiceOutline:
		c.cache.RemoveHost(req.Method, *req.Host)
		if c.offline != nil {
			c.offline(*req.Host)
		}
	default:
		// any other optype arriving as a push is unexpected; ignore.
	}
}

// Close tears down the registry connection.
func (c *DiscoverClient) Close() error { return c.conn.Close() }
