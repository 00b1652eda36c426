package pipeline

import "context"

// Interceptor processes a request State and passes it along the chain.
// An interceptor that blocks the request returns an error and does not
// call the next interceptor.
type Interceptor interface {
	// Intercept inspects and mutates the state, then delegates to the
	// next interceptor in the chain. Returns an error to block.
	Intercept(ctx context.Context, st *State) error
}

// InterceptorFunc is an adapter to allow the use of ordinary functions
// as Interceptors. Like http.HandlerFunc, it enables inline interceptors
// and chain terminals.
type InterceptorFunc func(ctx context.Context, st *State) error

// Intercept calls f(ctx, st).
func (f InterceptorFunc) Intercept(ctx context.Context, st *State) error {
	return f(ctx, st)
}

// Compile-time check that InterceptorFunc implements Interceptor.
var _ Interceptor = InterceptorFunc(nil)

// Terminal returns a no-op chain terminal.
func Terminal() Interceptor {
	return InterceptorFunc(func(ctx context.Context, st *State) error {
		return nil
	})
}
