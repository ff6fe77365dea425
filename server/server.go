// Package server implements the composed server-side façades: a
// RegistryServer hosting the provider/discoverer bookkeeping, an RpcServer
// hosting a method table (with optional self-registration against a
// RegistryServer), and a TopicServer hosting the pub/sub broker.
//
// Each façade follows the same accept-loop shape: one goroutine per accepted
// connection runs netconn.Conn.ReadLoop, routing decoded messages through a
// dispatch.Dispatcher into the façade's manager. Graceful shutdown tracks
// in-flight connections with a sync.WaitGroup the way the teacher's server
// tracks in-flight requests, then waits for them (with a timeout) after the
// listener stops accepting.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/netconn"
)

// acceptLoop is the shape every façade's Serve method follows: accept
// connections until the listener closes, running handle on each in its own
// goroutine and tracking it in wg for graceful shutdown.
func acceptLoop(ln net.Listener, shuttingDown *atomic.Bool, wg *sync.WaitGroup, handle func(net.Conn)) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if shuttingDown.Load() {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(nc)
		}()
	}
}

// waitWithTimeout blocks on wg until it drains or timeout elapses.
func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for connections to finish")
	}
}

func newConn(nc net.Conn, codec *frame.Codec) *netconn.Conn {
	return netconn.New(nc, codec)
}

func newDispatcher() *dispatch.Dispatcher { return dispatch.New() }
