package session

import (
	"context"

	"github.com/pkg/errors"
)

// ActionLogout is the Type of the logout Action; it is never swallowed.
const ActionLogout = "session/logout"

// Action is a state-mutating request.
type Action struct {
	Type    string
	Payload interface{}
}

// DispatchFunc handles an Action.
type DispatchFunc func(ctx context.Context, action Action) error

// Middleware wraps a DispatchFunc.
type Middleware func(next DispatchFunc) DispatchFunc

// Chain applies mws to h, the first one being the outermost.
func Chain(h DispatchFunc, mws ...Middleware) DispatchFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type interceptorOptions struct {
	onSwallow func(ctx context.Context, action Action)
}

type InterceptorOption func(*interceptorOptions)

// OnSwallow registers fn to be called with every Action dropped because the session expired.
func OnSwallow(fn func(ctx context.Context, action Action)) InterceptorOption {
	return func(o *interceptorOptions) { o.onSwallow = fn }
}

// ExpiryInterceptor guards every dispatched Action against an expired session.
//
// The expiry is read from the persisted record, not from memory. When it has passed
// (or cannot be parsed), the Container is logged out and the Action is dropped without error.
// Without a recorded expiry the Action always goes through. Expiry is only noticed lazily,
// on the next dispatch after the deadline.
//
// Actions dispatched through the interceptor must not dispatch through it again.
func ExpiryInterceptor(c *Container, opts ...InterceptorOption) Middleware {
	var o interceptorOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, action Action) error {
			c.dispatchMu.Lock()
			defer c.dispatchMu.Unlock()

			if action.Type != ActionLogout {
				expired, err := c.persistedExpired(ctx)
				if err != nil {
					return errors.Wrap(err, "checking session expiry")
				}
				if expired {
					c.logger.Warn("session expired, logging out", map[string]interface{}{"action": action.Type})
					// the expiry lives in the record, so logging out removes it too
					if err = c.Logout(ctx); err != nil {
						return errors.Wrap(err, "logging out expired session")
					}
					if o.onSwallow != nil {
						o.onSwallow(ctx, action)
					}
					return nil
				}
			}
			return next(ctx, action)
		}
	}
}

// persistedExpired reads the expiry straight from the store.
func (c *Container) persistedExpired(ctx context.Context) (bool, error) {
	raw, err := c.store.Get(ctx, RecordKey)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		// expiry unknowable: fail closed
		return true, nil
	}
	exp, ok, err := rec.expiry()
	if !ok {
		return false, nil
	}
	if err != nil {
		return true, nil
	}
	return !NowFunc().Before(exp), nil
}

// Dispatcher runs Actions through the ExpiryInterceptor of a Container.
type Dispatcher struct {
	dispatch DispatchFunc
}

func NewDispatcher(c *Container, h DispatchFunc, opts ...InterceptorOption) *Dispatcher {
	return &Dispatcher{dispatch: ExpiryInterceptor(c, opts...)(h)}
}

func (d *Dispatcher) Dispatch(ctx context.Context, action Action) error {
	return d.dispatch(ctx, action)
}
