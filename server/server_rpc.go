package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"jrpchub/client"
	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/metrics"
	"jrpchub/middleware"
	"jrpchub/rpcrouter"
)

// RpcServer hosts a method table (spec.md §4.5) and, when constructed with a
// registry address, self-registers every method with that registry using
// its advertised access address — the access address being distinct from
// the listen address so a server behind NAT/a cloud load balancer can
// advertise its externally reachable host (original_source
// source/server/rpc_server.hpp's access_addr/listen-port split).
type RpcServer struct {
	router     *rpcrouter.Router
	codec      *frame.Codec
	accessAddr message.Address

	regMu        sync.Mutex // guards registryAddr/regClient across RegisterMethod, Rebind, Shutdown
	registryAddr string
	regClient    *client.RegistryClient

	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewRpcServer returns an RpcServer that advertises accessAddr to any
// registry it registers methods with. Pass registryAddr = "" to run without
// registry self-registration.
func NewRpcServer(accessAddr message.Address, registryAddr string, codec *frame.Codec) (*RpcServer, error) {
	if codec == nil {
		codec = frame.NewCodec(0)
	}
	s := &RpcServer{
		router:       rpcrouter.NewRouter(),
		codec:        codec,
		accessAddr:   accessAddr,
		registryAddr: registryAddr,
	}
	if registryAddr != "" {
		reg, err := client.NewRegistryClient(registryAddr)
		if err != nil {
			return nil, fmt.Errorf("server: connect to registry: %w", err)
		}
		s.regClient = reg
	}
	return s, nil
}

// Use installs the middleware chain wrapping every registered method's
// business dispatch (spec.md §4.10).
func (s *RpcServer) Use(mws ...middleware.Middleware) { s.router.Use(mws...) }

// SetMetrics installs the collectors the router records call counts and
// latency to.
func (s *RpcServer) SetMetrics(m *metrics.Metrics) { s.router.SetMetrics(m) }

// RegisterMethod adds desc to the method table and, when registry
// self-registration is enabled, announces it to the registry.
func (s *RpcServer) RegisterMethod(desc *rpcrouter.ServiceDescriptor) error {
	s.regMu.Lock()
	reg := s.regClient
	s.regMu.Unlock()

	if reg != nil {
		if err := reg.RegisterMethod(desc.Name, s.accessAddr); err != nil {
			return fmt.Errorf("server: register %s with registry: %w", desc.Name, err)
		}
	}
	return s.router.Manager().Register(desc)
}

// Rebind connects to registryAddr, re-announces every already-registered
// method under the server's access address, and only then drops the
// connection to the previous registry, if any. If connecting or any
// re-announcement fails, the previous connection is kept. Used when
// bootstrap.Watch reports the registry has moved to a different address.
func (s *RpcServer) Rebind(registryAddr string) error {
	reg, err := client.NewRegistryClient(registryAddr)
	if err != nil {
		return fmt.Errorf("server: connect to registry: %w", err)
	}

	for _, desc := range s.router.Manager().Descriptors() {
		if err := reg.RegisterMethod(desc.Name, s.accessAddr); err != nil {
			reg.Close()
			return fmt.Errorf("server: re-register %s with registry: %w", desc.Name, err)
		}
	}

	s.regMu.Lock()
	old := s.regClient
	s.regClient = reg
	s.registryAddr = registryAddr
	s.regMu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Serve listens on listenAddr and runs the accept loop until Shutdown.
func (s *RpcServer) Serve(listenAddr string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	return acceptLoop(ln, &s.shutdown, &s.wg, s.handleConn)
}

func (s *RpcServer) handleConn(nc net.Conn) {
	conn := newConn(nc, s.codec)
	d := newDispatcher()
	dispatch.RegisterHandler[*message.RpcRequest](d, message.ReqRPC, s.router.HandleRequest)
	conn.ReadLoop(d.OnMessage)
}

// Shutdown stops accepting new connections, waits up to timeout for
// in-flight ones to finish, and tears down the registry connection if any.
func (s *RpcServer) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	err := waitWithTimeout(&s.wg, timeout)

	s.regMu.Lock()
	reg := s.regClient
	s.regMu.Unlock()
	if reg != nil {
		reg.Close()
	}
	return err
}
