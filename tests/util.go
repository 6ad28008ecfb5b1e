package testutil

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/core/user"
	logsvc "github.com/trezcool/masomo-dashboard/services/logger"
	"github.com/trezcool/masomo-dashboard/storage/memory"
)

// NewLogger returns a logger that reports nothing.
func NewLogger() core.Logger {
	lg := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), &core.Config{Env: "TEST"})
	lg.Enable(false)
	return lg
}

// FreezeTime makes session.NowFunc return at until the test ends.
func FreezeTime(t *testing.T, at time.Time) {
	t.Helper()
	prev := session.NowFunc
	session.NowFunc = func() time.Time { return at }
	t.Cleanup(func() { session.NowFunc = prev })
}

// NewContainer returns a fresh Container backed by the namespace ns of db.
func NewContainer(t *testing.T, db *memory.DB, ns string) (*session.Container, session.Store) {
	t.Helper()
	store, err := db.Store(ns)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	c, err := session.NewContainer(store, NewLogger())
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	return c, store
}

func NewUser(id int, name string, role user.Role) user.User {
	return user.User{
		ID:    id,
		Name:  name,
		Email: strings.ToLower(name) + "@test.cd",
		Role:  role,
	}
}

// Login authenticates c as usr until expiresAt.
func Login(t *testing.T, c *session.Container, usr user.User, expiresAt time.Time) {
	t.Helper()
	err := c.Authenticate(context.Background(), session.Payload{
		User:      usr,
		Token:     "tok-" + usr.Name,
		ExpiresAt: expiresAt,
		HasSchool: usr.School != nil,
	})
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
}
