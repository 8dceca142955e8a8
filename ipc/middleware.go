package ipc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoggingMiddleware logs every call with its duration and outcome.
func LoggingMiddleware(log *zap.SugaredLogger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) Response {
			start := time.Now()
			resp := next(ctx, req)
			if resp.Failed() {
				log.Debugw("call failed", "Call", req.Call, "ID", req.ID, "Duration", time.Since(start), "Error", *resp.Error)
			} else {
				log.Debugw("call succeeded", "Call", req.Call, "ID", req.ID, "Duration", time.Since(start))
			}
			return resp
		}
	}
}

// RateLimitMiddleware rejects calls beyond r per second, with bursts of up to burst calls.
// Rejected calls get a "rate limit exceeded" error response and never reach their handler.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) Response {
			if !limiter.Allow() {
				return Failure(req.ID, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
