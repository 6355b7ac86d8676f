package llm

import "context"

type completeFunc func(ctx context.Context, req Request) (Response, error)
type streamFunc func(ctx context.Context, req Request) (Stream, error)

// Middleware wraps both the Complete and Stream call paths, in registration
// order for the request phase. Typical uses: retry-with-backoff, logging,
// rate limiting.
type Middleware interface {
	WrapComplete(next completeFunc) completeFunc
	WrapStream(next streamFunc) streamFunc
}

func applyMiddlewareComplete(base completeFunc, mws []Middleware) completeFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i].WrapComplete(h)
	}
	return h
}

func applyMiddlewareStream(base streamFunc, mws []Middleware) streamFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i].WrapStream(h)
	}
	return h
}
