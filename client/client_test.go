package client

import (
	"net"
	"testing"
	"time"

	"jrpchub/dispatch"
	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/netconn"
	"jrpchub/registry"
	"jrpchub/rpcrouter"
	"jrpchub/topic"
)

// listen opens a loopback listener on an ephemeral port for test servers.
func listen(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().String()
}

// serveRPC accepts connections on ln and routes REQ_RPC through router.
func serveRPC(t *testing.T, ln net.Listener, router *rpcrouter.Router) {
	t.Helper()
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			conn := netconn.New(nc, frame.NewCodec(0))
			d := dispatch.New()
			dispatch.RegisterHandler[*message.RpcRequest](d, message.ReqRPC, router.HandleRequest)
			go conn.ReadLoop(d.OnMessage)
		}
	}()
}

// serveRegistry accepts connections on ln and routes REQ_SERVICE through mgr.
func serveRegistry(t *testing.T, ln net.Listener, mgr *registry.Manager) {
	t.Helper()
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			conn := netconn.New(nc, frame.NewCodec(0))
			d := dispatch.New()
			dispatch.RegisterHandler[*message.ServiceRequest](d, message.ReqService, mgr.HandleRequest)
			conn.OnClose(mgr.OnClose)
			go conn.ReadLoop(d.OnMessage)
		}
	}()
}

// serveTopic accepts connections on ln and routes REQ_TOPIC through mgr.
func serveTopic(t *testing.T, ln net.Listener, mgr *topic.Manager) {
	t.Helper()
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			conn := netconn.New(nc, frame.NewCodec(0))
			d := dispatch.New()
			dispatch.RegisterHandler[*message.TopicRequest](d, message.ReqTopic, mgr.HandleRequest)
			conn.OnClose(mgr.OnClose)
			go conn.ReadLoop(d.OnMessage)
		}
	}()
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

func TestDirectRpcClientCall(t *testing.T) {
	ln, addr := listen(t)
	router := rpcrouter.NewRouter()
	if err := router.Manager().Register(addDescriptor()); err != nil {
		t.Fatalf("register: %v", err)
	}
	serveRPC(t, ln, router)

	c, err := NewDirectRpcClient(addr)
	if err != nil {
		t.Fatalf("NewDirectRpcClient: %v", err)
	}
	defer c.Close()

	result, err := c.Call("Add", map[string]any{"num1": 4, "num2": 5})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != "9" {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestDirectRpcClientMethodNotFound(t *testing.T) {
	ln, addr := listen(t)
	router := rpcrouter.NewRouter()
	serveRPC(t, ln, router)

	c, err := NewDirectRpcClient(addr)
	if err != nil {
		t.Fatalf("NewDirectRpcClient: %v", err)
	}
	defer c.Close()

	if _, err := c.Call("Missing", map[string]any{}); err == nil {
		t.Fatal("expected an error for an unregistered method")
	}
}

func TestRegistryAndDiscoverClients(t *testing.T) {
	ln, addr := listen(t)
	mgr := registry.NewManager()
	serveRegistry(t, ln, mgr)

	reg, err := NewRegistryClient(addr)
	if err != nil {
		t.Fatalf("NewRegistryClient: %v", err)
	}
	defer reg.Close()

	providerAddr := message.Address{IP: "127.0.0.1", Port: 9001}
	if err := reg.RegisterMethod("Add", providerAddr); err != nil {
		t.Fatalf("RegisterMethod: %v", err)
	}

	disc, err := NewDiscoverClient(addr, nil)
	if err != nil {
		t.Fatalf("NewDiscoverClient: %v", err)
	}
	defer disc.Close()

	host, err := disc.Discover("Add")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if host != providerAddr {
		t.Fatalf("expected %v, got %v", providerAddr, host)
	}
}

func TestDiscoverClientOnlineOutlinePush(t *testing.T) {
	ln, addr := listen(t)
	mgr := registry.NewManager()
	serveRegistry(t, ln, mgr)

	// Discoverer connects and discovers before any provider exists.
	var offline []message.Address
	disc, err := NewDiscoverClient(addr, func(h message.Address) {
		offline = append(offline, h)
	})
	if err != nil {
		t.Fatalf("NewDiscoverClient: %v", err)
	}
	defer disc.Close()

	if _, err := disc.Discover("Add"); err == nil {
		t.Fatal("expected NOT_FOUND_SERVICE before any provider registers")
	}

	reg, err := NewRegistryClient(addr)
	if err != nil {
		t.Fatalf("NewRegistryClient: %v", err)
	}
	providerAddr := message.Address{IP: "127.0.0.1", Port: 9002}
	if err := reg.RegisterMethod("Add", providerAddr); err != nil {
		t.Fatalf("RegisterMethod: %v", err)
	}

	// The ONLINE push races the test goroutine; give it a moment to land.
	deadline := time.Now().Add(time.Second)
	var host message.Address
	for time.Now().Before(deadline) {
		if h, err := disc.Discover("Add"); err == nil {
			host = h
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if host != providerAddr {
		t.Fatalf("expected ONLINE push to install %v, got %v", providerAddr, host)
	}

	reg.Close()

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(offline) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(offline) != 1 || offline[0] != providerAddr {
		t.Fatalf("expected an OUTLINE callback for %v, got %v", providerAddr, offline)
	}
}

func TestTopicClientPublishFanOut(t *testing.T) {
	ln, addr := listen(t)
	mgr := topic.NewManager()
	serveTopic(t, ln, mgr)

	publisher, err := NewTopicClient(addr)
	if err != nil {
		t.Fatalf("NewTopicClient(publisher): %v", err)
	}
	defer publisher.Close()

	if err := publisher.CreateTopic("news"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	subscriber, err := NewTopicClient(addr)
	if err != nil {
		t.Fatalf("NewTopicClient(subscriber): %v", err)
	}
	defer subscriber.Close()

	received := make(chan string, 1)
	if err := subscriber.SubscribeTopic("news", func(key, msg string) {
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
			t.Fatalf("unexpected message: %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
