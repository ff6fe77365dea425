package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"jrpchub/message"
)

// RateLimitMiddleware guards the router with a token-bucket limiter.
//
// The limiter is constructed once in the outer closure and shared across all
// requests; constructing it per-request would give every request a fresh
// full bucket and defeat the limit entirely.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcRequest) *message.RpcResponse {
			if !limiter.Allow() {
				return &message.RpcResponse{Rcode: message.RCodeInternalError}
			}
			return next(ctx, req)
		}
	}
}
