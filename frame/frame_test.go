package frame

import (
	"testing"

	"jrpchub/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec(0)

	req := &message.RpcRequest{Method: "Add", Params: []byte(`{"num1":11,"num2":22}`)}
	req.SetRid("rid-1")

	buf, err := c.Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !c.CanProcess(buf) {
		t.Fatal("expected CanProcess true for a complete frame")
	}

	got, n, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected to consume %d bytes, got %d", len(buf), n)
	}
	gotReq, ok := got.(*message.RpcRequest)
	if !ok {
		t.Fatalf("expected *message.RpcRequest, got %T", got)
	}
	if gotReq.Method != req.Method || gotReq.Rid() != req.Rid() {
		t.Fatalf("round trip mismatch: %+v vs %+v", gotReq, req)
	}
}

func TestCanProcessPartialFrame(t *testing.T) {
	c := NewCodec(0)
	req := &message.RpcRequest{Method: "Add", Params: []byte(`{"num1":1,"num2":2}`)}
	req.SetRid("rid-2")

	buf, err := c.Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if c.CanProcess(buf[:len(buf)-1]) {
		t.Fatal("expected CanProcess false for a truncated frame")
	}
}

func TestExceedsMax(t *testing.T) {
	c := NewCodec(16)
	if !c.ExceedsMax(17) {
		t.Fatal("expected ExceedsMax true above configured max")
	}
	if c.ExceedsMax(16) {
		t.Fatal("expected ExceedsMax false at the configured max")
	}
}
