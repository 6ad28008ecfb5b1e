package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/core/user"
	"github.com/trezcool/masomo-dashboard/storage/memory"
	testutil "github.com/trezcool/masomo-dashboard/tests"
)

var errStorage = errors.New("disk on fire")

// flakyStore fails the operations it is told to.
type flakyStore struct {
	session.Store
	failGet, failSet, failDelete, failClear bool
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if s.failGet {
		return "", errStorage
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	if s.failSet {
		return errStorage
	}
	return s.Store.Set(ctx, key, value)
}

func (s *flakyStore) Delete(ctx context.Context, keys ...string) error {
	if s.failDelete {
		return errStorage
	}
	return s.Store.Delete(ctx, keys...)
}

func (s *flakyStore) Clear(ctx context.Context) error {
	if s.failClear {
		return errStorage
	}
	return s.Store.Clear(ctx)
}

func newFlakyContainer(t *testing.T, db *memory.DB, ns string) (*session.Container, *flakyStore) {
	t.Helper()
	inner, _ := db.Store(ns)
	fs := &flakyStore{Store: inner}
	c, err := session.NewContainer(fs, testutil.NewLogger())
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	return c, fs
}

type persisted struct {
	User            *user.User `json:"user"`
	Token           string     `json:"token"`
	ExpiresAt       string     `json:"expiresAt"`
	IsAuthenticated bool       `json:"isAuthenticated"`
	HasSchool       *bool      `json:"hasSchool"`
}

func readRecord(t *testing.T, store session.Store) (persisted, bool) {
	t.Helper()
	raw, err := store.Get(context.Background(), session.RecordKey)
	if session.IsNotFound(err) {
		return persisted{}, false
	}
	if err != nil {
		t.Fatalf("readRecord() failed: %v", err)
	}
	var rec persisted
	if err = json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("readRecord() failed: %v", err)
	}
	return rec, true
}

func writeRaw(t *testing.T, store session.Store, key, value string) {
	t.Helper()
	if err := store.Set(context.Background(), key, value); err != nil {
		t.Fatalf("writeRaw() failed: %v", err)
	}
}

func isAnonymous(s session.Session) bool {
	return reflect.DeepEqual(s, session.Anonymous())
}

func TestNewContainer(t *testing.T) {
	store, _ := memory.NewDB().Store("dev")
	if _, err := session.NewContainer(nil, testutil.NewLogger()); err == nil {
		t.Error("NewContainer(nil store) error = nil; want an error")
	}
	if _, err := session.NewContainer(store, nil); err == nil {
		t.Error("NewContainer(nil logger) error = nil; want an error")
	}
	c, err := session.NewContainer(store, testutil.NewLogger())
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}
	if !isAnonymous(c.Session()) {
		t.Errorf("initial Session() = %+v; want Anonymous", c.Session())
	}
}

func TestContainer_Authenticate(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	testutil.FreezeTime(t, now)

	teacher := testutil.NewUser(7, "Mwalimu", user.RoleTeacher)
	valid := session.Payload{User: teacher, Token: "tok", ExpiresAt: now.Add(time.Hour), HasSchool: true}
	with := func(fn func(p *session.Payload)) session.Payload {
		p := valid
		fn(&p)
		return p
	}

	tests := []struct {
		name      string
		payload   session.Payload
		wantField string
	}{
		{name: "valid", payload: valid},
		{name: "missing token", payload: with(func(p *session.Payload) { p.Token = "" }), wantField: "token"},
		{name: "missing expiry", payload: with(func(p *session.Payload) { p.ExpiresAt = time.Time{} }), wantField: "expires_at"},
		{name: "expires now", payload: with(func(p *session.Payload) { p.ExpiresAt = now }), wantField: "expires_at"},
		{name: "already expired", payload: with(func(p *session.Payload) { p.ExpiresAt = now.Add(-time.Second) }), wantField: "expires_at"},
		{name: "no role", payload: with(func(p *session.Payload) { p.User.Role = user.RoleNone }), wantField: "role"},
		{name: "unknown role", payload: with(func(p *session.Payload) { p.User.Role = user.Role(42) }), wantField: "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store := testutil.NewContainer(t, memory.NewDB(), "dev")
			err := c.Authenticate(context.Background(), tt.payload)

			if tt.wantField != "" {
				verr, ok := err.(*core.ValidationError)
				if !ok {
					t.Fatalf("Authenticate() error = %v; want *core.ValidationError", err)
				}
				if verr.Fields[0].Field != tt.wantField {
					t.Errorf("Authenticate() field = %q; want %q", verr.Fields[0].Field, tt.wantField)
				}
				if !isAnonymous(c.Session()) {
					t.Errorf("Session() = %+v; want Anonymous", c.Session())
				}
				if _, ok = readRecord(t, store); ok {
					t.Error("rejected payload was persisted")
				}
				return
			}

			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			got := c.Session()
			want := session.Session{
				User:            teacher,
				Token:           "tok",
				ExpiresAt:       now.Add(time.Hour),
				IsAuthenticated: true,
				HasSchool:       true,
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Session() = %+v; want %+v", got, want)
			}
			rec, ok := readRecord(t, store)
			if !ok {
				t.Fatal("session record not persisted")
			}
			if rec.Token != "tok" || !rec.IsAuthenticated || rec.HasSchool == nil || !*rec.HasSchool {
				t.Errorf("persisted record = %+v", rec)
			}
			if rec.ExpiresAt != "2026-03-02T09:00:00Z" {
				t.Errorf("persisted expiresAt = %q; want RFC 3339", rec.ExpiresAt)
			}
		})
	}
}

func TestContainer_Authenticate_overwrites(t *testing.T) {
	c, _ := testutil.NewContainer(t, memory.NewDB(), "dev")
	exp := time.Now().Add(time.Hour)
	testutil.Login(t, c, testutil.NewUser(1, "Admin", user.RoleAdmin), exp)
	testutil.Login(t, c, testutil.NewUser(2, "Student", user.RoleStudent), exp)

	if got := c.Session().User.ID; got != 2 {
		t.Errorf("Session().User.ID = %d; want 2", got)
	}
}

func TestContainer_Authenticate_storageFailure(t *testing.T) {
	c, fs := newFlakyContainer(t, memory.NewDB(), "dev")
	fs.failSet = true

	err := c.Authenticate(context.Background(), session.Payload{
		User:      testutil.NewUser(1, "Admin", user.RoleAdmin),
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err == nil || !errors.Is(err, errStorage) {
		t.Errorf("Authenticate() error = %v; want %v", err, errStorage)
	}
	if !isAnonymous(c.Session()) {
		t.Errorf("Session() = %+v; want Anonymous", c.Session())
	}
}

// authenticate, then rehydrate a fresh Container on the same storage
func TestContainer_Rehydrate_roundTrip(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	sch := &user.School{ID: 3, Name: "Institut Tuendelee", CurrentYear: "2026-2027"}

	tests := []struct {
		name    string
		payload session.Payload
	}{
		{
			name: "admin with school",
			payload: session.Payload{
				User:      user.User{ID: 1, Name: "Admin", Email: "admin@test.cd", Role: user.RoleAdmin, School: sch},
				Token:     "a.b.c",
				ExpiresAt: exp,
				HasSchool: true,
			},
		},
		{
			name: "teacher without school",
			payload: session.Payload{
				User:      user.User{ID: 2, Name: "Teacher", Email: "teacher@test.cd", Phone: "+243810000000", Role: user.RoleTeacher},
				Token:     "t0k3n",
				ExpiresAt: exp,
			},
		},
		{
			name: "student",
			payload: session.Payload{
				User:      user.User{ID: 3, Name: "Student", Address: "Goma", Role: user.RoleStudent, School: sch},
				Token:     "x",
				ExpiresAt: exp,
				HasSchool: true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memory.NewDB()
			c1, _ := testutil.NewContainer(t, db, "dev")
			if err := c1.Authenticate(context.Background(), tt.payload); err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}

			c2, _ := testutil.NewContainer(t, db, "dev")
			if err := c2.Rehydrate(context.Background()); err != nil {
				t.Fatalf("Rehydrate() error = %v", err)
			}
			got, want := c2.Session(), c1.Session()
			if !got.ExpiresAt.Equal(want.ExpiresAt) {
				t.Errorf("ExpiresAt = %v; want %v", got.ExpiresAt, want.ExpiresAt)
			}
			got.ExpiresAt, want.ExpiresAt = time.Time{}, time.Time{}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("rehydrated Session() = %+v; want %+v", got, want)
			}
		})
	}
}

func TestContainer_Rehydrate_invalid(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	testutil.FreezeTime(t, now)

	rec := func(token, exp string, isAuth bool) string {
		return `{"user":{"id":1,"name":"Admin","email":"admin@test.cd","role":"admin"},"token":"` + token +
			`","expiresAt":"` + exp + `","isAuthenticated":` + strconv.FormatBool(isAuth) + `}`
	}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "expired", raw: rec("tok", "2026-03-02T07:59:59Z", true)},
		{name: "expires now", raw: rec("tok", "2026-03-02T08:00:00Z", true)},
		{name: "no token", raw: rec("", "2026-03-02T09:00:00Z", true)},
		{name: "no expiry", raw: rec("tok", "", true)},
		{name: "not authenticated", raw: rec("tok", "2026-03-02T09:00:00Z", false)},
		{name: "malformed expiry", raw: rec("tok", "next tuesday", true)},
		{name: "no user", raw: `{"token":"tok","expiresAt":"2026-03-02T09:00:00Z","isAuthenticated":true}`},
		{name: "empty role", raw: `{"user":{"id":1,"name":"Admin","role":""},"token":"tok","expiresAt":"2026-03-02T09:00:00Z","isAuthenticated":true}`},
		{name: "no role", raw: `{"user":{"id":1,"name":"Admin"},"token":"tok","expiresAt":"2026-03-02T09:00:00Z","isAuthenticated":true}`},
		{name: "unknown role", raw: `{"user":{"id":1,"role":"janitor"},"token":"tok","expiresAt":"2026-03-02T09:00:00Z","isAuthenticated":true}`},
		{name: "corrupt json", raw: `{"user":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memory.NewDB()
			c, store := testutil.NewContainer(t, db, "dev")
			writeRaw(t, store, session.RecordKey, tt.raw)
			writeRaw(t, store, "tokenExpiration", "legacy")

			if err := c.Rehydrate(context.Background()); err != nil {
				t.Fatalf("Rehydrate() error = %v", err)
			}
			if !isAnonymous(c.Session()) {
				t.Errorf("Session() = %+v; want Anonymous", c.Session())
			}
			if n := db.Len("dev"); n != 0 {
				t.Errorf("namespace holds %d entries after Rehydrate(); want 0", n)
			}
		})
	}
}

func TestContainer_Rehydrate_empty(t *testing.T) {
	db := memory.NewDB()
	c, _ := testutil.NewContainer(t, db, "dev")
	if err := c.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}
	if !isAnonymous(c.Session()) {
		t.Errorf("Session() = %+v; want Anonymous", c.Session())
	}
}

func TestContainer_Rehydrate_otherNamespaceUntouched(t *testing.T) {
	db := memory.NewDB()
	other, _ := testutil.NewContainer(t, db, "other")
	testutil.Login(t, other, testutil.NewUser(1, "Admin", user.RoleAdmin), time.Now().Add(time.Hour))

	c, store := testutil.NewContainer(t, db, "dev")
	writeRaw(t, store, session.RecordKey, `garbage`)
	if err := c.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}
	if db.Len("other") != 1 {
		t.Error("Rehydrate() wiped another namespace")
	}
}

func TestContainer_Rehydrate_storageFailure(t *testing.T) {
	db := memory.NewDB()
	seed, _ := testutil.NewContainer(t, db, "dev")
	testutil.Login(t, seed, testutil.NewUser(1, "Admin", user.RoleAdmin), time.Now().Add(time.Hour))

	t.Run("read", func(t *testing.T) {
		c, fs := newFlakyContainer(t, db, "dev")
		fs.failGet = true
		if err := c.Rehydrate(context.Background()); !errors.Is(err, errStorage) {
			t.Errorf("Rehydrate() error = %v; want %v", err, errStorage)
		}
		if !isAnonymous(c.Session()) {
			t.Errorf("Session() = %+v; want Anonymous", c.Session())
		}
	})

	t.Run("clear", func(t *testing.T) {
		c, fs := newFlakyContainer(t, db, "broken")
		writeRaw(t, fs, session.RecordKey, `garbage`)
		fs.failClear = true
		if err := c.Rehydrate(context.Background()); !errors.Is(err, errStorage) {
			t.Errorf("Rehydrate() error = %v; want %v", err, errStorage)
		}
		if !isAnonymous(c.Session()) {
			t.Errorf("Session() = %+v; want Anonymous", c.Session())
		}
	})
}

func TestContainer_Logout(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	tests := []struct {
		name  string
		login *user.User
	}{
		{name: "from anonymous"},
		{name: "from admin", login: &user.User{ID: 1, Name: "Admin", Role: user.RoleAdmin}},
		{name: "from student with school", login: &user.User{ID: 2, Name: "Student", Role: user.RoleStudent, School: &user.School{ID: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memory.NewDB()
			c, store := testutil.NewContainer(t, db, "dev")
			if tt.login != nil {
				testutil.Login(t, c, *tt.login, exp)
			}

			for i := 0; i < 2; i++ { // idempotent
				if err := c.Logout(context.Background()); err != nil {
					t.Fatalf("Logout() error = %v", err)
				}
				if !isAnonymous(c.Session()) {
					t.Errorf("Session() = %+v; want Anonymous", c.Session())
				}
				if _, ok := readRecord(t, store); ok {
					t.Error("session record still persisted after Logout()")
				}
			}
		})
	}
}

func TestContainer_Logout_storageFailure(t *testing.T) {
	c, fs := newFlakyContainer(t, memory.NewDB(), "dev")
	testutil.Login(t, c, testutil.NewUser(1, "Admin", user.RoleAdmin), time.Now().Add(time.Hour))
	fs.failDelete = true

	if err := c.Logout(context.Background()); !errors.Is(err, errStorage) {
		t.Errorf("Logout() error = %v; want %v", err, errStorage)
	}
	if !isAnonymous(c.Session()) {
		t.Errorf("Session() = %+v; want Anonymous", c.Session())
	}
}

func TestContainer_UpdateUserInfo(t *testing.T) {
	sPtr := func(s string) *string { return &s }
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	base := user.User{ID: 5, Name: "Teacher", Email: "teacher@test.cd", Phone: "+243810000000", Role: user.RoleTeacher}
	sch := user.School{ID: 9, Name: "Lycée Wima", CurrentYear: "2026-2027"}

	tests := []struct {
		name    string
		partial user.UpdateUser
		want    user.User
	}{
		{name: "nothing", want: base},
		{
			name:    "name only",
			partial: user.UpdateUser{Name: sPtr("Mwalimu")},
			want:    func() user.User { u := base; u.Name = "Mwalimu"; return u }(),
		},
		{
			name:    "email and address",
			partial: user.UpdateUser{Email: sPtr("mwalimu@test.cd"), Address: sPtr("Bukavu")},
			want:    func() user.User { u := base; u.Email = "mwalimu@test.cd"; u.Address = "Bukavu"; return u }(),
		},
		{
			name:    "clear phone",
			partial: user.UpdateUser{Phone: sPtr("")},
			want:    func() user.User { u := base; u.Phone = ""; return u }(),
		},
		{
			name:    "link school",
			partial: user.UpdateUser{School: &sch},
			want:    func() user.User { u := base; u.School = &sch; return u }(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memory.NewDB()
			c, _ := testutil.NewContainer(t, db, "dev")
			testutil.Login(t, c, base, exp)
			before := c.Session()

			if err := c.UpdateUserInfo(context.Background(), tt.partial); err != nil {
				t.Fatalf("UpdateUserInfo() error = %v", err)
			}
			after := c.Session()
			if !reflect.DeepEqual(after.User, tt.want) {
				t.Errorf("User = %+v; want %+v", after.User, tt.want)
			}
			if after.Token != before.Token || !after.ExpiresAt.Equal(before.ExpiresAt) || !after.IsAuthenticated {
				t.Errorf("UpdateUserInfo() touched the validity window: before %+v, after %+v", before, after)
			}

			// written through
			c2, _ := testutil.NewContainer(t, db, "dev")
			if err := c2.Rehydrate(context.Background()); err != nil {
				t.Fatalf("Rehydrate() error = %v", err)
			}
			if !reflect.DeepEqual(c2.Session().User, tt.want) {
				t.Errorf("persisted User = %+v; want %+v", c2.Session().User, tt.want)
			}
		})
	}
}

func TestContainer_UpdateUserInfo_errors(t *testing.T) {
	name := "New Name"

	t.Run("anonymous", func(t *testing.T) {
		c, _ := testutil.NewContainer(t, memory.NewDB(), "dev")
		if err := c.UpdateUserInfo(context.Background(), user.UpdateUser{Name: &name}); err != session.ErrNotAuthenticated {
			t.Errorf("UpdateUserInfo() error = %v; want %v", err, session.ErrNotAuthenticated)
		}
	})

	t.Run("storage", func(t *testing.T) {
		c, fs := newFlakyContainer(t, memory.NewDB(), "dev")
		usr := testutil.NewUser(1, "Admin", user.RoleAdmin)
		testutil.Login(t, c, usr, time.Now().Add(time.Hour))
		fs.failSet = true

		if err := c.UpdateUserInfo(context.Background(), user.UpdateUser{Name: &name}); !errors.Is(err, errStorage) {
			t.Errorf("UpdateUserInfo() error = %v; want %v", err, errStorage)
		}
		if got := c.Session().User; !reflect.DeepEqual(got, usr) {
			t.Errorf("User = %+v; want unchanged %+v", got, usr)
		}
	})
}

func TestContainer_Session_isSnapshot(t *testing.T) {
	c, _ := testutil.NewContainer(t, memory.NewDB(), "dev")
	usr := testutil.NewUser(1, "Admin", user.RoleAdmin)
	usr.School = &user.School{ID: 1, Name: "Original"}
	testutil.Login(t, c, usr, time.Now().Add(time.Hour))

	snap := c.Session()
	snap.User.School.Name = "Mutated"
	if got := c.Session().User.School.Name; got != "Original" {
		t.Errorf("School.Name = %q; a snapshot mutated the Container", got)
	}
}
