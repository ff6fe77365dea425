package client

import (
	"fmt"

	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/netconn"
	"jrpchub/requestor"
)

// RegistryClient is the service-provider side of the registry protocol: it
// holds one permanent connection to the registry and registers methods this
// process provides, per spec.md §4.6 REGISTRY.
type RegistryClient struct {
	conn      *netconn.Conn
	requestor *requestor.Requestor
}

// NewRegistryClient dials the registry at addr and wires a dispatcher that
// routes RSP_SERVICE replies back to the requestor.
func NewRegistryClient(addr string) (*RegistryClient, error) {
	return NewRegistryClientCodec(addr, defaultCodec())
}

// NewRegistryClientCodec is NewRegistryClient with an explicit frame codec
// (the max-frame-size knob spec.md §9 open question #5 leaves hardcoded in
// the source).
func NewRegistryClientCodec(addr string, codec *frame.Codec) (*RegistryClient, error) {
	conn, err := dial(addr, codec)
	if err != nil {
		return nil, err
	}

	req := requestor.New()
	d := newDispatcher()
	dispatch.RegisterHandler[*message.ServiceResponse](d, message.RspService, req.OnResponse)
	conn.OnClose(req.Close)

	go conn.ReadLoop(d.OnMessage)

	return &RegistryClient{conn: conn, requestor: req}, nil
}

// RegisterMethod announces that this process provides method at addr.
func (c *RegistryClient) RegisterMethod(method string, addr message.Address) error {
	req := &message.ServiceRequest{Method: method, Optype: message.ServiceRegistry, Host: &addr}
	msg, err := c.requestor.SendSync(c.conn, req)
	if err != nil {
		return err
	}
	rsp, ok := msg.(*message.ServiceResponse)
	if !ok {
		return fmt.Errorf("client: unexpected registry response type %T", msg)
	}
	if rsp.Rcode != message.RCodeOK {
		return fmt.Errorf("client: register %s: %w", method, rsp.Rcode)
	}
	return nil
}

// Close tears down the registry connection.
func (c *RegistryClient) Close() error { return c.conn.Close() }
