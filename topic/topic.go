// Package topic implements the broker's topic lifecycle, the bidirectional
// subscriber↔topic graph, and publish fan-out.
package topic

import (
	"log"
	"sync"

	"jrpchub/message"
	"jrpchub/metrics"
	"jrpchub/netconn"
)

// Subscriber is the broker's record of a connection that has subscribed to
// at least one topic.
type Subscriber struct {
	mu     sync.Mutex
	Conn   *netconn.Conn
	Topics map[string]struct{}
}

func newSubscriber(conn *netconn.Conn) *Subscriber {
	return &Subscriber{Conn: conn, Topics: make(map[string]struct{})}
}

func (s *Subscriber) appendTopic(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Topics[key] = struct{}{}
}

func (s *Subscriber) removeTopic(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Topics, key)
}

func (s *Subscriber) topicSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Topics))
	for k := range s.Topics {
		out = append(out, k)
	}
	return out
}

// Topic is a named channel with a set of subscriber connections.
type Topic struct {
	mu          sync.Mutex
	Name        string
	Subscribers map[*Subscriber]struct{}
}

func newTopic(name string) *Topic {
	return &Topic{Name: name, Subscribers: make(map[*Subscriber]struct{})}
}

func (t *Topic) appendSubscriber(s *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Subscribers[s] = struct{}{}
}

func (t *Topic) removeSubscriber(s *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.Subscribers, s)
}

func (t *Topic) subscriberSnapshot() []*Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Subscriber, 0, len(t.Subscribers))
	for s := range t.Subscribers {
		out = append(out, s)
	}
	return out
}

// Manager holds the broker's topic and subscriber tables.
type Manager struct {
	mu          sync.Mutex
	topics      map[string]*Topic
	subscribers map[*netconn.Conn]*Subscriber
	metrics     *metrics.Metrics
}

// NewManager returns an empty broker Manager.
func NewManager() *Manager {
	return &Manager{
		topics:      make(map[string]*Topic),
		subscribers: make(map[*netconn.Conn]*Subscriber),
	}
}

// SetMetrics installs the collectors m records subscriber counts and
// publish fan-out to. Passing nil (the zero value) disables recording.
func (m *Manager) SetMetrics(metrics *metrics.Metrics) { m.metrics = metrics }

// HandleRequest implements the dispatcher handler for REQ_TOPIC.
func (m *Manager) HandleRequest(conn *netconn.Conn, req *message.TopicRequest) {
	switch req.Optype {
	case message.TopicCreate:
		m.create(req.Key)
		m.respond(conn, req, message.RCodeOK)
	case message.TopicRemove:
		m.remove(req.Key)
		m.respond(conn, req, message.RCodeOK)
	case message.TopicSubscribe:
		if !m.subscribe(conn, req.Key) {
			m.respond(conn, req, message.RCodeNotFoundTopic)
			return
		}
		m.respond(conn, req, message.RCodeOK)
	case message.TopicCancel:
		m.cancel(conn, req.Key)
		m.respond(conn, req, message.RCodeOK)
	case message.TopicPublish:
		if !m.publish(req) {
			m.respond(conn, req, message.RCodeNotFoundTopic)
			return
		}
		m.respond(conn, req, message.RCodeOK)
	default:
		log.Printf("topic: unrecognized optype %v", req.Optype)
		m.respond(conn, req, message.RCodeInvalidOptype)
	}
}

func (m *Manager) create(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.topics[key]; !exists {
		m.topics[key] = newTopic(key)
	}
}

func (m *Manager) remove(key string) {
	m.mu.Lock()
	t, exists := m.topics[key]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.topics, key)
	m.mu.Unlock()

	for _, sub := range t.subscriberSnapshot() {
		sub.removeTopic(key)
	}
}

func (m *Manager) subscribe(conn *netconn.Conn, key string) bool {
	m.mu.Lock()
	t, exists := m.topics[key]
	if !exists {
		m.mu.Unlock()
		return false
	}
	sub, ok := m.subscribers[conn]
	if !ok {
		sub = newSubscriber(conn)
		m.subscribers[conn] = sub
	}
	m.mu.Unlock()

	t.appendSubscriber(sub)
	sub.appendTopic(key)
	m.observeSubscriberCount(key, t)
	return true
}

func (m *Manager) cancel(conn *netconn.Conn, key string) {
	m.mu.Lock()
	t, hasTopic := m.topics[key]
	sub, hasSub := m.subscribers[conn]
	m.mu.Unlock()

	if !hasTopic || !hasSub {
		return
	}
	t.removeSubscriber(sub)
	sub.removeTopic(key)
	m.observeSubscriberCount(key, t)
}

func (m *Manager) publish(req *message.TopicRequest) bool {
	m.mu.Lock()
	t, exists := m.topics[req.Key]
	m.mu.Unlock()
	if !exists {
		return false
	}

	subs := t.subscriberSnapshot()
	for _, sub := range subs {
		if err := sub.Conn.Send(req); err != nil {
			log.Printf("topic: publish to subscriber failed: %v", err)
		}
	}
	if m.metrics != nil {
		m.metrics.PublishFanOut.Observe(float64(len(subs)))
	}
	return true
}

func (m *Manager) observeSubscriberCount(key string, t *Topic) {
	if m.metrics == nil {
		return
	}
	m.metrics.TopicSubscribers.WithLabelValues(key).Set(float64(len(t.subscriberSnapshot())))
}

func (m *Manager) respond(conn *netconn.Conn, req *message.TopicRequest, rcode message.RetCode) {
	rsp := &message.TopicResponse{Rcode: rcode}
	rsp.SetRid(req.Rid())
	if err := conn.Send(rsp); err != nil {
		log.Printf("topic: send response failed: %v", err)
	}
}

// OnClose drops conn's subscriber record, if any, from every topic it had
// subscribed to. Publisher-only connections need no cleanup.
func (m *Manager) OnClose(conn *netconn.Conn) {
	m.mu.Lock()
	sub, exists := m.subscribers[conn]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.subscribers, conn)
	m.mu.Unlock()

	for _, key := range sub.topicSnapshot() {
		m.mu.Lock()
		t := m.topics[key]
		m.mu.Unlock()
		if t != nil {
			t.removeSubscriber(sub)
			m.observeSubscriberCount(key, t)
		}
	}
}
