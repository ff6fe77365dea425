package dispatch

import (
	"net"
	"testing"

	"jrpchub/frame"
	"jrpchub/message"
	"jrpchub/netconn"
)

func testConn() *netconn.Conn {
	a, _ := net.Pipe()
	return netconn.New(a, frame.NewCodec(0))
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	d := New()
	var got *message.RpcRequest
	RegisterHandler[*message.RpcRequest](d, message.ReqRPC, func(_ *netconn.Conn, msg *message.RpcRequest) {
		got = msg
	})

	req := &message.RpcRequest{Method: "Add"}
	d.OnMessage(testConn(), req)

	if got != req {
		t.Fatalf("expected handler to receive the dispatched message")
	}
}

func TestDispatchClosesConnectionOnMissingHandler(t *testing.T) {
	d := New()
	conn := testConn()
	defer conn.Close()

	d.OnMessage(conn, &message.RpcRequest{Method: "Add"})

	if conn.Connected() {
		t.Fatal("expected connection to be closed for an unregistered mtype")
	}
}

func TestDispatchClosesConnectionOnTypeMismatch(t *testing.T) {
	d := New()
	// Register under ReqRPC but hand OnMessage a different concrete type so
	// the generic assertion inside the wrapper fails.
	RegisterHandler[*message.RpcRequest](d, message.ReqRPC, func(_ *netconn.Conn, _ *message.RpcRequest) {
		t.Fatal("handler should not run on a type mismatch")
	})

	conn := testConn()
	defer conn.Close()

	mismatched := &message.RpcResponse{}
	mismatched.SetRid("x")
	// Force the dispatcher to treat it as ReqRPC's handler by calling OnMessage
	// with a message whose MType() still reports ReqRPC but whose concrete
	// type is wrong would be impossible to construct honestly; instead call
	// the registered handler's effect directly through OnMessage using a
	// wrapper message that lies about its own MType.
	d.OnMessage(conn, lyingReqRPC{mismatched})

	if conn.Connected() {
		t.Fatal("expected connection to be closed on a type mismatch")
	}
}

// lyingReqRPC reports MType() ReqRPC while wrapping a different concrete
// message.Message, exercising the defensive type assertion inside
// RegisterHandler's wrapper without needing a malformed frame on the wire.
type lyingReqRPC struct {
	message.Message
}

func (lyingReqRPC) MType() message.MType { return message.ReqRPC }
