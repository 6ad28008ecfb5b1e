package echoweb

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core/session"
)

type swallowedFlag struct{ set bool }

type swallowedKey struct{}

// httpAction is the payload of the Action dispatched for a mutating request.
type httpAction struct {
	ctx  echo.Context
	next echo.HandlerFunc
}

// runHTTPAction is the DispatchFunc of every device: it runs the request handler.
func runHTTPAction(_ context.Context, action session.Action) error {
	a, ok := action.Payload.(httpAction)
	if !ok {
		return errors.Errorf("unexpected action payload %T", action.Payload)
	}
	return a.next(a.ctx)
}

func markSwallowed(ctx context.Context, _ session.Action) {
	if flag, ok := ctx.Value(swallowedKey{}).(*swallowedFlag); ok {
		flag.set = true
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// actionType names the Action of a route, eg. "PUT /profile".
func actionType(method, route string) string {
	if method == http.MethodPost && route == routeLogout {
		return session.ActionLogout
	}
	return method + " " + route
}

// expiryMiddleware dispatches mutating requests through the device's expiry interceptor.
// A request swallowed because the session expired is answered with a redirect to the login view.
func expiryMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !isMutating(ctx.Request().Method) {
				return next(ctx)
			}
			dev, err := getContextDevice(ctx)
			if err != nil {
				return err
			}

			flag := new(swallowedFlag)
			reqCtx := context.WithValue(ctx.Request().Context(), swallowedKey{}, flag)

			err = dev.dispatcher.Dispatch(reqCtx, session.Action{
				Type:    actionType(ctx.Request().Method, ctx.Path()),
				Payload: httpAction{ctx: ctx, next: next},
			})
			if err != nil {
				return err
			}
			if flag.set {
				if !ctx.Response().Committed {
					return ctx.Redirect(http.StatusSeeOther, session.RouteLogin)
				}
			}
			return nil
		}
	}
}

// guardMiddleware renders its view only when g allows it; otherwise it redirects.
func guardMiddleware(g session.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			dev, err := getContextDevice(ctx)
			if err != nil {
				return err
			}
			d := g.Check(dev.container.Session(), ctx.Request().URL.Path)
			if d.Allow {
				return next(ctx)
			}
			code := http.StatusFound
			if isMutating(ctx.Request().Method) {
				code = http.StatusSeeOther
			}
			return ctx.Redirect(code, d.Redirect)
		}
	}
}
