package middleware

import (
	"context"
	"log"

	"jrpchub/message"
)

// RecoverMiddleware converts a panicking service callback into an
// INTERNAL_ERROR response instead of crashing the connection's goroutine.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcRequest) (rsp *message.RpcResponse) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("middleware: recovered panic in method %s: %v", req.Method, r)
					rsp = &message.RpcResponse{Rcode: message.RCodeInternalError}
				}
			}()
			return next(ctx, req)
		}
	}
}
