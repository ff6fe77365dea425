package middleware

import (
	"context"
	"log"
	"time"

	"jrpchub/message"
)

// LoggingMiddleware records the method, duration, and any non-OK rcode for
// each RPC request the router handles.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcRequest) *message.RpcResponse {
			start := time.Now()
			rsp := next(ctx, req)
			log.Printf("method=%s duration=%s rcode=%v", req.Method, time.Since(start), rsp.Rcode)
			return rsp
		}
	}
}
