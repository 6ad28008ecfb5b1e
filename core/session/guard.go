package session

import (
	"strings"

	"github.com/trezcool/masomo-dashboard/core/user"
)

// Routes the guards redirect to.
const (
	RouteLogin            = "/login"
	RouteRegister         = "/register"
	RouteResetPassword    = "/reset-password"
	RouteProfile          = "/profile"
	RouteGeneralDashboard = "/dashboard"
	RouteTeacherDashboard = "/teacher"
	RouteStudentDashboard = "/student"
)

// LandingRoute is the home view of a role.
func LandingRoute(role user.Role) string {
	switch role {
	case user.RoleAdmin:
		return RouteGeneralDashboard
	case user.RoleTeacher:
		return RouteTeacherDashboard
	case user.RoleStudent:
		return RouteStudentDashboard
	case user.RoleNone:
		return RouteProfile
	default:
		return RouteProfile
	}
}

// Decision is the outcome of a Guard.
type Decision struct {
	Allow    bool
	Redirect string // set when !Allow
}

func Allow() Decision { return Decision{Allow: true} }

func RedirectTo(path string) Decision { return Decision{Redirect: path} }

// Guard decides whether the view at path may be shown for s.
// Guards are pure: they never mutate the Session.
type Guard interface {
	Check(s Session, path string) Decision
}

type GuardFunc func(s Session, path string) Decision

func (f GuardFunc) Check(s Session, path string) Decision { return f(s, path) }

// CommonGuard lets any authenticated user through.
type CommonGuard struct{}

func (CommonGuard) Check(s Session, _ string) Decision {
	if !s.IsAuthenticated {
		return RedirectTo(RouteLogin)
	}
	return Allow()
}

// RoleGuard lets through authenticated users of Role only.
// Others go to their profile when the area is admin-only, to their own landing view otherwise.
type RoleGuard struct {
	Role user.Role
}

func (g RoleGuard) Check(s Session, path string) Decision {
	if d := (CommonGuard{}).Check(s, path); !d.Allow {
		return d
	}
	if s.User.Role == g.Role {
		return Allow()
	}
	switch g.Role {
	case user.RoleAdmin:
		return RedirectTo(RouteProfile)
	case user.RoleTeacher, user.RoleStudent, user.RoleNone:
		return RedirectTo(LandingRoute(s.User.Role))
	default:
		return RedirectTo(LandingRoute(s.User.Role))
	}
}

// PublicGuard shows its view (login, register, reset) to anonymous users only.
type PublicGuard struct{}

func (PublicGuard) Check(s Session, _ string) Decision {
	if s.IsAuthenticated {
		return RedirectTo(LandingRoute(s.User.Role))
	}
	return Allow()
}

// ScopedDataGuard is a RoleGuard that additionally requires the user's school to satisfy
// Require for every path under Prefix. Users who have not completed their school setup go
// to their profile.
type ScopedDataGuard struct {
	Role    user.Role
	Prefix  string
	Require func(sch *user.School) bool
}

func (g ScopedDataGuard) Check(s Session, path string) Decision {
	if d := (RoleGuard{Role: g.Role}).Check(s, path); !d.Allow {
		return d
	}
	if !underPrefix(path, g.Prefix) {
		return Allow()
	}
	require := g.Require
	if require == nil {
		require = SchoolHasCurrentYear
	}
	if !require(s.User.School) {
		return RedirectTo(RouteProfile)
	}
	return Allow()
}

// SchoolHasCurrentYear requires a linked school with an active academic year.
func SchoolHasCurrentYear(sch *user.School) bool {
	return sch != nil && strings.TrimSpace(sch.CurrentYear) != ""
}

// underPrefix matches whole path segments: "/a/b" is under "/a" but "/ab" is not.
func underPrefix(path, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
