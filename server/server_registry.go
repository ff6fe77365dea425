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
	"jrpchub/registry"
)

// RegistryServer hosts the provider/discoverer bookkeeping described in
// spec.md §4.6.
type RegistryServer struct {
	manager  *registry.Manager
	codec    *frame.Codec
	listener net.Listener

	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewRegistryServer returns a RegistryServer backed by a fresh Manager.
func NewRegistryServer(codec *frame.Codec) *RegistryServer {
	if codec == nil {
		codec = frame.NewCodec(0)
	}
	return &RegistryServer{manager: registry.NewManager(), codec: codec}
}

// Manager exposes the registry's bookkeeping tables for inspection in tests.
func (s *RegistryServer) Manager() *registry.Manager { return s.manager }

// SetMetrics installs the collectors the registry's Manager records
// provider/discoverer churn and ONLINE/OUTLINE push counts to.
func (s *RegistryServer) SetMetrics(m *metrics.Metrics) { s.manager.SetMetrics(m) }

// Serve listens on addr and runs the accept loop. It blocks until the
// listener is closed via Shutdown.
func (s *RegistryServer) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return acceptLoop(ln, &s.shutdown, &s.wg, s.handleConn)
}

func (s *RegistryServer) handleConn(nc net.Conn) {
	conn := newConn(nc, s.codec)
	d := newDispatcher()
	dispatch.RegisterHandler[*message.ServiceRequest](d, message.ReqService, s.manager.HandleRequest)
	conn.OnClose(s.manager.OnClose)
	conn.ReadLoop(d.OnMessage)
}

// Shutdown stops accepting new connections and waits up to timeout for
// in-flight ones to finish.
func (s *RegistryServer) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	return waitWithTimeout(&s.wg, timeout)
}
