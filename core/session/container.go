package session

import (
	"context"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/user"
)

// ErrNotAuthenticated is returned by transitions that need an Authenticated session.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Container is the single authority over one Session.
// It is mutated only through Authenticate, Rehydrate, Logout and UpdateUserInfo,
// and writes every change through to its Store.
type Container struct {
	store  Store
	logger core.Logger

	mu    sync.RWMutex // guards state
	state Session

	// dispatchMu serializes the expiry check with the action it guards.
	dispatchMu sync.Mutex
}

func NewContainer(store Store, logger core.Logger) (*Container, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		return nil, err
	}
	return &Container{
		store:  store,
		logger: logger,
		state:  Anonymous(),
	}, nil
}

// Session returns a snapshot of the current Session.
func (c *Container) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	s.User = s.User.Clone()
	return s
}

// Authenticate stores a freshly logged-in session, replacing any previous one.
// If the session cannot be persisted, the Container falls back to Anonymous.
func (c *Container) Authenticate(ctx context.Context, p Payload) error {
	if err := validatePayload(p); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Session{
		User:            p.User.Clone(),
		Token:           p.Token,
		ExpiresAt:       p.ExpiresAt,
		IsAuthenticated: true,
		HasSchool:       p.HasSchool,
	}
	if err := c.persist(ctx); err != nil {
		c.state = Anonymous()
		_ = c.store.Delete(ctx, RecordKey)
		return errors.Wrap(err, "persisting session")
	}
	return nil
}

// Logout resets to Anonymous and removes the persisted record.
// The in-memory reset always happens; only the storage error is reported.
func (c *Container) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logout(ctx)
}

func (c *Container) logout(ctx context.Context) error {
	c.state = Anonymous()
	if err := c.store.Delete(ctx, RecordKey); err != nil {
		return errors.Wrap(err, "removing session record")
	}
	return nil
}

// Rehydrate restores the persisted session if it is complete and not expired.
// Otherwise it resets to Anonymous and wipes the whole namespace.
// It is meant to run once, when the owner of the Container starts.
func (c *Container) Rehydrate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.store.Get(ctx, RecordKey)
	if err != nil && !IsNotFound(err) {
		c.state = Anonymous()
		_ = c.store.Clear(ctx) // best effort: the namespace may be what is broken
		return errors.Wrap(err, "reading session record")
	}
	if err == nil {
		if rec, dErr := decodeRecord(raw); dErr != nil {
			c.logger.Debug("discarding malformed session record", dErr)
		} else if sess, ok := rec.restore(NowFunc()); ok {
			c.state = sess
			return nil
		}
	}

	c.state = Anonymous()
	if err = c.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "clearing session store")
	}
	return nil
}

// UpdateUserInfo merges the set fields of uu into the session User.
// The token and the validity window are never touched.
func (c *Container) UpdateUserInfo(ctx context.Context, uu user.UpdateUser) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsAuthenticated {
		return ErrNotAuthenticated
	}
	prev := c.state.User
	c.state.User = uu.Merge(prev)
	if err := c.persist(ctx); err != nil {
		c.state.User = prev
		return errors.Wrap(err, "persisting session user")
	}
	return nil
}

// persist writes the current state through to the store. c.mu must be held.
func (c *Container) persist(ctx context.Context) error {
	raw, err := newRecord(c.state).encode()
	if err != nil {
		return errors.Wrap(err, "encoding session record")
	}
	return c.store.Set(ctx, RecordKey, raw)
}

func validatePayload(p Payload) error {
	var flds []core.FieldError
	if p.Token == "" {
		flds = append(flds, core.FieldError{Field: "token", Error: "this field is required"})
	}
	if p.ExpiresAt.IsZero() {
		flds = append(flds, core.FieldError{Field: "expires_at", Error: "this field is required"})
	} else if !NowFunc().Before(p.ExpiresAt) {
		flds = append(flds, core.FieldError{Field: "expires_at", Error: "session already expired"})
	}
	if !p.User.Role.Valid() {
		flds = append(flds, core.FieldError{Field: "role", Error: "invalid role"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}
