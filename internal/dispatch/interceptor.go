package dispatch

// Next invokes the remainder of an interceptor chain, eventually the terminal
// handler, and returns its outcome.
type Next func(env *Envelope, ctx *Context) (any, error)

// Interceptor wraps handler invocation. An interceptor may short-circuit by
// returning without calling next, derive a new Context for the inner chain,
// or catch an error from next and rethrow, transform, or swallow it.
type Interceptor func(env *Envelope, ctx *Context, next Next) (any, error)

// chainInterceptors composes interceptors around terminal in onion order:
// given [A, B, C], entry order is A, B, C, terminal and control returns in
// reverse on the way out. An empty list yields terminal itself.
func chainInterceptors(terminal Next, interceptors []Interceptor) Next {
	next := terminal
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		inner := next
		next = func(env *Envelope, ctx *Context) (any, error) {
			return interceptor(env, ctx, inner)
		}
	}
	return next
}
