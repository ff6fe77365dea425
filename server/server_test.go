package server

import (
	"net"
	"strconv"
	"testing"
	"time"

	"jrpchub/client"
	"jrpchub/message"
	"jrpchub/rpcrouter"
)

// freeAddr reserves an ephemeral loopback port and returns it for a server
// under test to listen on next.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func addDescriptor() *rpcrouter.ServiceDescriptor {
	return rpcrouter.NewBuilder("Add").
		Param("num1", rpcrouter.Integral).
		Param("num2", rpcrouter.Integral).
		Returns(rpcrouter.Integral).
		Callback(func(params map[string]any) (any, error) {
			return params["num1"].(float64) + params["num2"].(float64), nil
		}).
		Build()
}

func TestRpcServerDirectCall(t *testing.T) {
	addr := freeAddr(t)
	srv, err := NewRpcServer(message.Address{}, "", nil)
	if err != nil {
		t.Fatalf("NewRpcServer: %v", err)
	}
	if err := srv.RegisterMethod(addDescriptor()); err != nil {
		t.Fatalf("RegisterMethod: %v", err)
	}

	go srv.Serve(addr)
	waitDialable(t, addr)
	defer srv.Shutdown(time.Second)

	c, err := client.NewDirectRpcClient(addr)
	if err != nil {
		t.Fatalf("NewDirectRpcClient: %v", err)
	}
	defer c.Close()

	result, err := c.Call("Add", map[string]any{"num1": 2, "num2": 3})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != "5" {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestRpcServerSelfRegistersWithRegistry(t *testing.T) {
	registryAddr := freeAddr(t)
	regSrv := NewRegistryServer(nil)
	go regSrv.Serve(registryAddr)
	waitDialable(t, registryAddr)
	defer regSrv.Shutdown(time.Second)

	rpcAddr := freeAddr(t)
	host, portStr, err := net.SplitHostPort(rpcAddr)
	if err != nil {
		t.Fatalf("split %s: %v", rpcAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}

	srv, err := NewRpcServer(message.Address{IP: host, Port: port}, registryAddr, nil)
	if err != nil {
		t.Fatalf("NewRpcServer: %v", err)
	}
	if err := srv.RegisterMethod(addDescriptor()); err != nil {
		t.Fatalf("RegisterMethod: %v", err)
	}
	go srv.Serve(rpcAddr)
	waitDialable(t, rpcAddr)
	defer srv.Shutdown(time.Second)

	disc, err := client.NewDiscoverClient(registryAddr, nil)
	if err != nil {
		t.Fatalf("NewDiscoverClient: %v", err)
	}
	defer disc.Close()

	resolved, err := disc.Discover("Add")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if resolved.IP != host || resolved.Port != port {
		t.Fatalf("expected %s:%d, got %v", host, port, resolved)
	}
}

func TestTopicServerCreateAndPublish(t *testing.T) {
	addr := freeAddr(t)
	srv := NewTopicServer(nil)
	go srv.Serve(addr)
	waitDialable(t, addr)
	defer srv.Shutdown(time.Second)

	publisher, err := client.NewTopicClient(addr)
	if err != nil {
		t.Fatalf("NewTopicClient: %v", err)
	}
	defer publisher.Close()

	if err := publisher.CreateTopic("news"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	received := make(chan string, 1)
	if err := publisher.SubscribeTopic("news", func(key, msg string) {
		received <- msg
	}); err != nil {
		t.Fatalf("SubscribeTopic: %v", err)
	}

	if err := publisher.PublishTopic("news", "hello"); err != nil {
		t.Fatalf("PublishTopic: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "hello" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

// waitDialable blocks briefly until addr accepts connections, since Serve
// runs its accept loop in a background goroutine started by the test.
func waitDialable(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		nc, err := net.Dial("tcp", addr)
		if err == nil {
			nc.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server at %s never became dialable", addr)
}
