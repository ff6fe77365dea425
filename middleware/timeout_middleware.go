package middleware

import (
	"context"
	"time"

	"jrpchub/message"
)

// TimeOutMiddleware bounds a single service callback's execution.
//
// The handler goroutine is not cancelled on timeout — it keeps running in
// the background. The timeout only controls when the router gives up
// waiting; a handler that wants true cancellation must watch ctx itself.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcRequest) *message.RpcResponse {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RpcResponse, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case rsp := <-done:
				return rsp
			case <-ctx.Done():
				return &message.RpcResponse{Rcode: message.RCodeInternalError}
			}
		}
	}
}
