package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/metrics"
	"jrpchub/topic"
)

// TopicServer hosts the pub/sub broker described in spec.md §4.7.
type TopicServer struct {
	manager  *topic.Manager
	codec    *frame.Codec
	listener net.Listener

	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewTopicServer returns a TopicServer backed by a fresh Manager.
func NewTopicServer(codec *frame.Codec) *TopicServer {
	if codec == nil {
		codec = frame.NewCodec(0)
	}
	return &TopicServer{manager: topic.NewManager(), codec: codec}
}

// Manager exposes the broker's bookkeeping tables for inspection in tests.
func (s *TopicServer) Manager() *topic.Manager { return s.manager }

// SetMetrics installs the collectors the broker's Manager records subscriber
// counts and publish fan-out to.
func (s *TopicServer) SetMetrics(m *metrics.Metrics) { s.manager.SetMetrics(m) }

// Serve listens on addr and runs the accept loop until Shutdown.
func (s *TopicServer) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return acceptLoop(ln, &s.shutdown, &s.wg, s.handleConn)
}

func (s *TopicServer) handleConn(nc net.Conn) {
	conn := newConn(nc, s.codec)
	d := newDispatcher()
	dispatch.RegisterHandler[*message.TopicRequest](d, message.ReqTopic, s.manager.HandleRequest)
	conn.OnClose(s.manager.OnClose)
	conn.ReadLoop(d.OnMessage)
}

// Shutdown stops accepting new connections and waits up to timeout for
// in-flight ones to finish.
func (s *TopicServer) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	return waitWithTimeout(&s.wg, timeout)
}
