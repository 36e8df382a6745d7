package middleware

import (
	"log/slog"
	"net/http"
)

// Middleware represents a middleware function.
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain.
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain.
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain.
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	return handler
}

// MiddlewareSet contains the ambient middleware every route gets. There is
// no Auth entry: client authentication is an explicit Non-goal (spec §1),
// and no Statsig/metrics blockers: those were specific to the teacher's
// Claude-Code-CLI telemetry concern, which this gateway's domain has no
// equivalent of (see DESIGN.md).
type MiddlewareSet struct {
	Logging Middleware
	CORS    Middleware
}

// NewMiddlewareSet builds the gateway's middleware set.
func NewMiddlewareSet(logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		Logging: NewLoggingMiddleware(logger),
		CORS:    NewCORSMiddleware(),
	}
}

// DefaultChain is applied to every route (spec §6.2 CORS + ambient logging).
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(ms.CORS, ms.Logging)
}
