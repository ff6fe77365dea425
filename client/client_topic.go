package client

import (
	"fmt"
	"log"
	"sync"

	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/netconn"
	"jrpchub/requestor"
)

// SubscribeCallback receives a topic's key and the published message body
// for every PUBLISH push on a subscribed topic.
type SubscribeCallback func(key, msg string)

// TopicClient is the client-side pub/sub surface: one connection to a
// broker, the topic lifecycle operations of spec.md §4.7, and a local
// key→callback table per spec.md §4.8.
type TopicClient struct {
	conn      *netconn.Conn
	requestor *requestor.Requestor

	mu  sync.Mutex
	cbs map[string]SubscribeCallback
}

// NewTopicClient dials the broker at addr and wires both the response
// dispatcher (RSP_TOPIC → requestor) and the push dispatcher (REQ_TOPIC
// PUBLISH → the locally registered callback).
func NewTopicClient(addr string) (*TopicClient, error) {
	return NewTopicClientCodec(addr, defaultCodec())
}

// NewTopicClientCodec is NewTopicClient with an explicit frame codec.
func NewTopicClientCodec(addr string, codec *frame.Codec) (*TopicClient, error) {
	conn, err := dial(addr, codec)
	if err != nil {
		return nil, err
	}

	tc := &TopicClient{
		conn:      conn,
		requestor: requestor.New(),
		cbs:       make(map[string]SubscribeCallback),
	}

	d := newDispatcher()
	dispatch.RegisterHandler[*message.TopicResponse](d, message.RspTopic, tc.requestor.OnResponse)
	dispatch.RegisterHandler[*message.TopicRequest](d, message.ReqTopic, tc.onPublish)
	conn.OnClose(tc.requestor.Close)

	go conn.ReadLoop(d.OnMessage)

	return tc, nil
}

// CreateTopic idempotently creates key on the broker.
func (c *TopicClient) CreateTopic(key string) error {
	return c.commonRequest(key, message.TopicCreate, nil)
}

// RemoveTopic removes key from the broker.
func (c *TopicClient) RemoveTopic(key string) error {
	return c.commonRequest(key, message.TopicRemove, nil)
}

// SubscribeTopic installs cb for key before sending SUBSCRIBE, so any
// in-flight push is handled by the time the response arrives (spec.md
// §4.8). If the response is not OK, the callback is removed.
func (c *TopicClient) SubscribeTopic(key string, cb SubscribeCallback) error {
	c.addSubscribe(key, cb)
	if err := c.commonRequest(key, message.TopicSubscribe, nil); err != nil {
		c.delSubscribe(key)
		return err
	}
	return nil
}

// CancelTopic removes the local callback then sends CANCEL.
func (c *TopicClient) CancelTopic(key string) error {
	c.delSubscribe(key)
	return c.commonRequest(key, message.TopicCancel, nil)
}

// PublishTopic sends msg to every subscriber of key.
func (c *TopicClient) PublishTopic(key, msg string) error {
	return c.commonRequest(key, message.TopicPublish, &msg)
}

func (c *TopicClient) commonRequest(key string, op message.TopicOpType, msg *string) error {
	req := &message.TopicRequest{Key: key, Optype: op, Msg: msg}
	reply, err := c.requestor.SendSync(c.conn, req)
	if err != nil {
		return err
	}
	rsp, ok := reply.(*message.TopicResponse)
	if !ok {
		return fmt.Errorf("client: unexpected topic response type %T", reply)
	}
	if rsp.Rcode != message.RCodeOK {
		return fmt.Errorf("client: topic %s: %w", key, rsp.Rcode)
	}
	return nil
}

// onPublish delivers a pushed PUBLISH message to the locally registered
// callback for its topic key, if any.
func (c *TopicClient) onPublish(_ *netconn.Conn, req *message.TopicRequest) {
	if req.Optype != message.TopicPublish {
		log.Printf("client: unexpected pushed topic optype %v", req.Optype)
		return
	}
	cb := c.getSubscribe(req.Key)
	if cb == nil {
		log.Printf("client: no subscriber callback for topic %q", req.Key)
		return
	}
	msg := ""
	if req.Msg != nil {
		msg = *req.Msg
	}
	cb(req.Key, msg)
}

func (c *TopicClient) addSubscribe(key string, cb SubscribeCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cbs[key] = cb
}

func (c *TopicClient) delSubscribe(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cbs, key)
}

func (c *TopicClient) getSubscribe(key string) SubscribeCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cbs[key]
}

// Close tears down the broker connection.
func (c *TopicClient) Close() error { return c.conn.Close() }
