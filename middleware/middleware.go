// Package middleware implements the onion-model chain wrapping the RPC
// router's business dispatch, unchanged in shape from the teacher's generic
// middleware package but retargeted at RpcRequest/RpcResponse.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"jrpchub/message"
)

// HandlerFunc is the signature shared by the business handler and every
// middleware-wrapped handler.
type HandlerFunc func(ctx context.Context, req *message.RpcRequest) *message.RpcResponse

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed is the outermost layer.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
