package requestor

import (
	"net"
	"testing"
	"time"

	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/netconn"
)

func pipeConns(t *testing.T) (*netconn.Conn, *netconn.Conn) {
	t.Helper()
	a, b := net.Pipe()
	codec := frame.NewCodec(0)
	return netconn.New(a, codec), netconn.New(b, codec)
}

func TestSendSyncDeliversResponse(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	r := New()
	go server.ReadLoop(func(conn *netconn.Conn, msg message.Message) {
		req := msg.(*message.RpcRequest)
		rsp := &message.RpcResponse{Rcode: message.RCodeOK, Result: []byte(`33`)}
		rsp.SetRid(req.Rid())
		conn.Send(rsp)
	})
	go client.ReadLoop(func(conn *netconn.Conn, msg message.Message) {
		r.OnResponse(conn, msg)
	})

	req := &message.RpcRequest{Method: "Add", Params: []byte(`{"num1":11,"num2":22}`)}
	msg, err := r.SendSync(client, req)
	if err != nil {
		t.Fatalf("send sync: %v", err)
	}
	rsp := msg.(*message.RpcResponse)
	if rsp.Rcode != message.RCodeOK || string(rsp.Result) != "33" {
		t.Fatalf("unexpected response: %+v", rsp)
	}
}

func TestCloseFailsPendingWithDisconnected(t *testing.T) {
	client, server := pipeConns(t)
	defer server.Close()

	r := New()
	client.OnClose(r.Close)
	go client.ReadLoop(func(conn *netconn.Conn, msg message.Message) {
		r.OnResponse(conn, msg)
	})
	// net.Pipe is unbuffered: drain the server side so Send can return.
	go server.ReadLoop(func(*netconn.Conn, message.Message) {})

	req := &message.RpcRequest{Method: "Add", Params: []byte(`{"num1":1,"num2":2}`)}
	ch, err := r.SendAsync(client, req)
	if err != nil {
		t.Fatalf("send async: %v", err)
	}

	client.Close()

	select {
	case msg := <-ch:
		if !IsDisconnected(msg) {
			t.Fatalf("expected disconnected response, got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnected completion")
	}
}

// TestCloseOnlyFailsOwnConnectionsDescriptors exercises a single Requestor
// shared across two connections, as RpcClient's discovery-mode pool does: one
// connection dropping must not fail calls still in flight on the other.
func TestCloseOnlyFailsOwnConnectionsDescriptors(t *testing.T) {
	clientA, serverA := pipeConns(t)
	clientB, serverB := pipeConns(t)
	defer serverA.Close()
	defer clientB.Close()
	defer serverB.Close()

	r := New()
	clientA.OnClose(r.Close)
	clientB.OnClose(r.Close)
	go clientA.ReadLoop(func(conn *netconn.Conn, msg message.Message) { r.OnResponse(conn, msg) })
	go clientB.ReadLoop(func(conn *netconn.Conn, msg message.Message) { r.OnResponse(conn, msg) })
	// net.Pipe is unbuffered: drain the server sides so Send can return.
	go serverA.ReadLoop(func(*netconn.Conn, message.Message) {})
	go serverB.ReadLoop(func(*netconn.Conn, message.Message) {})

	reqA := &message.RpcRequest{Method: "Add", Params: []byte(`{"num1":1,"num2":2}`)}
	chA, err := r.SendAsync(clientA, reqA)
	if err != nil {
		t.Fatalf("send async on A: %v", err)
	}
	reqB := &message.RpcRequest{Method: "Add", Params: []byte(`{"num1":3,"num2":4}`)}
	chB, err := r.SendAsync(clientB, reqB)
	if err != nil {
		t.Fatalf("send async on B: %v", err)
	}

	clientA.Close()

	select {
	case msg := <-chA:
		if !IsDisconnected(msg) {
			t.Fatalf("expected A's call to be failed with disconnected, got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for A's disconnected completion")
	}

	select {
	case msg := <-chB:
		t.Fatalf("B's call should still be pending after only A closed, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	rsp := &message.RpcResponse{Rcode: message.RCodeOK, Result: []byte(`7`)}
	rsp.SetRid(reqB.Rid())
	if err := serverB.Send(rsp); err != nil {
		t.Fatalf("send reply on B: %v", err)
	}

	select {
	case msg := <-chB:
		got := msg.(*message.RpcResponse)
		if got.Rcode != message.RCodeOK || string(got.Result) != "7" {
			t.Fatalf("unexpected response for B: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for B's real reply")
	}
}
