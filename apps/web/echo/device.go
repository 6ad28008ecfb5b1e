package echoweb

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/session"
)

const contextDeviceKey = "device"

// anonymousIdleTTL is how long an anonymous device stays in memory without requests.
const anonymousIdleTTL = 30 * time.Minute

var nowFunc = time.Now // mockable

// deviceClaims identify a browser. The subject is the device id, which names its session namespace.
type deviceClaims struct {
	jwt.RegisteredClaims
}

// device is the session state of one browser.
type device struct {
	id         string
	container  *session.Container
	dispatcher *session.Dispatcher
}

// deviceEntry lets concurrent first requests of a device share one construct-then-rehydrate.
type deviceEntry struct {
	once     sync.Once
	device   *device
	err      error
	lastSeen time.Time // guarded by devices.mutex
}

// devices keeps one device per id until it goes idle, see evictIdle.
type devices struct {
	conf    *core.Config
	logger  core.Logger
	stores  session.StoreFactory
	handler session.DispatchFunc

	mutex   sync.Mutex
	entries map[string]*deviceEntry
}

func newDevices(conf *core.Config, logger core.Logger, stores session.StoreFactory, handler session.DispatchFunc) *devices {
	return &devices{
		conf:    conf,
		logger:  logger,
		stores:  stores,
		handler: handler,
		entries: make(map[string]*deviceEntry),
	}
}

// get returns the device of id, building and rehydrating it on first use.
func (ds *devices) get(ctx context.Context, id string) (*device, error) {
	ds.mutex.Lock()
	entry, ok := ds.entries[id]
	if !ok {
		entry = new(deviceEntry)
		ds.entries[id] = entry
	}
	entry.lastSeen = nowFunc()
	ds.mutex.Unlock()

	entry.once.Do(func() {
		entry.device, entry.err = ds.open(ctx, id)
	})
	if entry.err != nil {
		// let the next request try again
		ds.mutex.Lock()
		if ds.entries[id] == entry {
			delete(ds.entries, id)
		}
		ds.mutex.Unlock()
	}
	return entry.device, entry.err
}

func (ds *devices) open(ctx context.Context, id string) (*device, error) {
	store, err := ds.stores.Store(id)
	if err != nil {
		return nil, errors.Wrap(err, "opening device store")
	}
	c, err := session.NewContainer(store, ds.logger)
	if err != nil {
		return nil, errors.Wrap(err, "creating session container")
	}
	if err = c.Rehydrate(ctx); err != nil {
		// the container is Anonymous; the device can still log in
		ds.logger.Error("rehydrating session", err, map[string]interface{}{"device": id})
	}

	dev := &device{id: id, container: c}
	dev.dispatcher = session.NewDispatcher(c, ds.handler, session.OnSwallow(markSwallowed))
	return dev, nil
}

// evictIdle drops the devices without requests since anonymousIdleTTL (anonymous ones)
// or since the cookie TTL (logged-in ones); it returns how many went.
// An evicted device is rebuilt from its store on its next request.
func (ds *devices) evictIdle(now time.Time) int {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	var n int
	for id, entry := range ds.entries {
		idle := now.Sub(entry.lastSeen)
		if idle < anonymousIdleTTL {
			continue
		}
		if idle < ds.conf.Server.DeviceCookieTTL && entry.device != nil &&
			entry.device.container.Session().IsAuthenticated {
			continue
		}
		delete(ds.entries, id)
		n++
	}
	return n
}

func (ds *devices) len() int {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()
	return len(ds.entries)
}

func (ds *devices) signingKey() []byte {
	return []byte(ds.conf.SecretKey)
}

// issue returns a fresh device id and its signed cookie value.
func (ds *devices) issue() (string, string, error) {
	id := uuid.NewString()
	now := nowFunc()
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ds.conf.AppName,
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ds.conf.Server.DeviceCookieTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ds.signingKey())
	if err != nil {
		return "", "", errors.Wrap(err, "signing device cookie")
	}
	return id, signed, nil
}

// verify returns the device id of a cookie value, or false when it is not one of ours.
func (ds *devices) verify(value string) (string, bool) {
	var claims deviceClaims
	token, err := jwt.ParseWithClaims(value, &claims, func(*jwt.Token) (interface{}, error) {
		return ds.signingKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ds.conf.AppName),
		jwt.WithTimeFunc(nowFunc),
	)
	if err != nil || !token.Valid {
		return "", false
	}
	if _, err = uuid.Parse(claims.Subject); err != nil {
		return "", false
	}
	return claims.Subject, true
}

// deviceMiddleware attaches the device of the request, issuing a cookie to unknown browsers.
func deviceMiddleware(ds *devices) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			var id string
			if cookie, err := ctx.Cookie(ds.conf.Server.DeviceCookieName); err == nil {
				id, _ = ds.verify(cookie.Value)
			}
			if id == "" {
				var value string
				var err error
				if id, value, err = ds.issue(); err != nil {
					return err
				}
				ctx.SetCookie(&http.Cookie{
					Name:     ds.conf.Server.DeviceCookieName,
					Value:    value,
					Path:     "/",
					MaxAge:   int(ds.conf.Server.DeviceCookieTTL / time.Second),
					HttpOnly: true,
					Secure:   !ds.conf.Debug,
					SameSite: http.SameSiteLaxMode,
				})
			}

			dev, err := ds.get(ctx.Request().Context(), id)
			if err != nil {
				return errors.Wrap(err, "loading device session")
			}
			ctx.Set(contextDeviceKey, dev)
			return next(ctx)
		}
	}
}

func getContextDevice(ctx echo.Context) (*device, error) {
	if dev, ok := ctx.Get(contextDeviceKey).(*device); ok {
		return dev, nil
	}
	return nil, errors.New("no device in context")
}
