// Package session implements the dashboard's session gate: the state container owning the
// logged-in identity, its persisted mirror, the expiry interceptor and the route guards.
package session

import (
	"encoding/json"
	"time"

	"github.com/trezcool/masomo-dashboard/core/user"
)

// RecordKey is the store key holding the persisted session record.
const RecordKey = "session"

var NowFunc = time.Now // mockable

// Session is the authenticated identity and its validity window.
type Session struct {
	User            user.User `json:"user"`
	Token           string    `json:"-"`
	ExpiresAt       time.Time `json:"expires_at"`
	IsAuthenticated bool      `json:"is_authenticated"`
	HasSchool       bool      `json:"has_school"`
}

// Anonymous is the session of nobody; the initial state of every Container.
func Anonymous() Session {
	return Session{User: user.Anonymous()}
}

// Expired reports whether the validity window is over at t.
func (s Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Payload is what a successful login hands over to Container.Authenticate.
type Payload struct {
	User      user.User
	Token     string
	ExpiresAt time.Time
	HasSchool bool
}

// record is the persisted mirror of a Session.
// All fields live in one blob so that a crash can never leave half a session behind.
type record struct {
	User            *user.User `json:"user"`
	Token           string     `json:"token"`
	ExpiresAt       string     `json:"expiresAt"`
	IsAuthenticated bool       `json:"isAuthenticated"`
	HasSchool       *bool      `json:"hasSchool,omitempty"`
}

func newRecord(s Session) record {
	usr := s.User.Clone()
	hasSchool := s.HasSchool
	return record{
		User:            &usr,
		Token:           s.Token,
		ExpiresAt:       s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		IsAuthenticated: s.IsAuthenticated,
		HasSchool:       &hasSchool,
	}
}

func (r record) encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRecord(raw string) (record, error) {
	var r record
	err := json.Unmarshal([]byte(raw), &r)
	return r, err
}

// expiry parses the persisted expiry. ok is false when none is recorded.
func (r record) expiry() (exp time.Time, ok bool, err error) {
	if r.ExpiresAt == "" {
		return time.Time{}, false, nil
	}
	exp, err = time.Parse(time.RFC3339Nano, r.ExpiresAt)
	return exp, true, err
}

// restore rebuilds the Session iff the record is complete and still valid at now.
func (r record) restore(now time.Time) (Session, bool) {
	if r.User == nil || !r.User.Role.Valid() || r.Token == "" || !r.IsAuthenticated {
		return Session{}, false
	}
	exp, ok, err := r.expiry()
	if !ok || err != nil || !now.Before(exp) {
		return Session{}, false
	}
	var hasSchool bool
	if r.HasSchool != nil {
		hasSchool = *r.HasSchool
	}
	return Session{
		User:            r.User.Clone(),
		Token:           r.Token,
		ExpiresAt:       exp,
		IsAuthenticated: true,
		HasSchool:       hasSchool,
	}, true
}
