package test

import (
	"testing"
	"time"

	"jrpchub/client"
)

// BenchmarkDirectSyncCall measures round-trip latency of a single synchronous
// RPC call over a loopback TCP connection, replacing the teacher's reflect-
// based RPC benchmark with one driven through the public client facade.
func BenchmarkDirectSyncCall(b *testing.B) {
	addr := freeAddr(b)
	srv := startRpcServer(b, mustParseAddr(b, addr), "")
	defer srv.Shutdown(time.Second)

	c, err := client.NewDirectRpcClient(addr)
	if err != nil {
		b.Fatalf("NewDirectRpcClient: %v", err)
	}
	defer c.Close()

	params := map[string]any{"num1": 1, "num2": 2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Call("Add", params); err != nil {
			b.Fatalf("call: %v", err)
		}
	}
}

// BenchmarkDirectAsyncCall measures the round trip of an async call through
// the requestor's pending table: each iteration issues CallAsync and waits
// on its future before the next, so one request is in flight at a time.
func BenchmarkDirectAsyncCall(b *testing.B) {
	addr := freeAddr(b)
	srv := startRpcServer(b, mustParseAddr(b, addr), "")
	defer srv.Shutdown(time.Second)

	c, err := client.NewDirectRpcClient(addr)
	if err != nil {
		b.Fatalf("NewDirectRpcClient: %v", err)
	}
	defer c.Close()

	params := map[string]any{"num1": 1, "num2": 2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		future, err := c.CallAsync("Add", params)
		if err != nil {
			b.Fatalf("call async: %v", err)
		}
		res := <-future
		if res.Err != nil {
			b.Fatalf("async result: %v", res.Err)
		}
	}
}
