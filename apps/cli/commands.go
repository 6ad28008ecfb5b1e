package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/core/user"
	"github.com/trezcool/masomo-dashboard/services/masomoapi"
)

const actionLogin = "session/login"

var (
	errLoginFailed    = errors.New("authentication failed: wrong username or password")
	errSessionRevoked = errors.New("the API rejected your session, you have been logged out")
)

func (cli *commandLine) login(ctx context.Context, uname, pwd string) error {
	creds := user.Credentials{Username: uname, Password: pwd}
	if err := creds.Validate(cli.validate); err != nil {
		return err
	}
	return cli.dispatcher.Dispatch(ctx, session.Action{
		Type: actionLogin,
		Payload: func(ctx context.Context) error {
			p, err := cli.api.Login(ctx, creds)
			if err != nil {
				if errors.Cause(err) == masomoapi.ErrInvalidCredentials {
					return errLoginFailed
				}
				return errors.Wrap(err, "logging in")
			}
			if err = cli.container.Authenticate(ctx, p); err != nil {
				return errors.Wrap(err, "authenticating session")
			}
			fmt.Fprintf(cli.out, "logged in as %s (%s), until %s\n", p.User.Name, p.User.Role, formatTime(p.ExpiresAt))
			return nil
		},
	})
}

func (cli *commandLine) logout(ctx context.Context) error {
	return cli.dispatcher.Dispatch(ctx, session.Action{
		Type: session.ActionLogout,
		Payload: func(ctx context.Context) error {
			if err := cli.container.Logout(ctx); err != nil {
				return errors.Wrap(err, "logging out")
			}
			fmt.Fprintln(cli.out, "logged out")
			return nil
		},
	})
}

func (cli *commandLine) whoami() error {
	sess := cli.container.Session()
	if !sess.IsAuthenticated {
		return errNotLoggedIn
	}
	usr := sess.User
	fmt.Fprintf(cli.out, "%s <%s>\n", usr.Name, usr.Email)
	fmt.Fprintf(cli.out, "role:    %s\n", usr.Role)
	if usr.School != nil {
		fmt.Fprintf(cli.out, "school:  %s", usr.School.Name)
		if usr.School.CurrentYear != "" {
			fmt.Fprintf(cli.out, " (%s)", usr.School.CurrentYear)
		}
		fmt.Fprintln(cli.out)
	}
	fmt.Fprintf(cli.out, "expires: %s\n", formatTime(sess.ExpiresAt))
	return nil
}

func (cli *commandLine) updateProfile(ctx context.Context, uu user.UpdateUser) error {
	if !cli.container.Session().IsAuthenticated {
		return errNotLoggedIn
	}
	if err := uu.Validate(cli.validate); err != nil {
		return err
	}
	return cli.dispatcher.Dispatch(ctx, session.Action{
		Type: "profile/update",
		Payload: func(ctx context.Context) error {
			sess := cli.container.Session()
			usr, err := cli.api.UpdateProfile(ctx, sess.Token, sess.User.ID, uu)
			if err != nil {
				if errors.Cause(err) == masomoapi.ErrUnauthorized {
					if err = cli.container.Logout(ctx); err != nil {
						return errors.Wrap(err, "logging out")
					}
					return errSessionRevoked
				}
				return errors.Wrap(err, "updating profile")
			}
			if err = cli.container.UpdateUserInfo(ctx, uu.Saved(usr)); err != nil {
				return errors.Wrap(err, "updating session user")
			}
			fmt.Fprintln(cli.out, "profile updated")
			return nil
		},
	})
}

// routeGuards lists the dashboard areas by path prefix; the longest matching prefix wins.
var routeGuards = []struct {
	prefix string
	guard  session.Guard
}{
	{session.RouteLogin, session.PublicGuard{}},
	{session.RouteRegister, session.PublicGuard{}},
	{session.RouteResetPassword, session.PublicGuard{}},
	{session.RouteProfile, session.CommonGuard{}},
	{"/notifications", session.CommonGuard{}},
	{session.RouteGeneralDashboard, session.RoleGuard{Role: user.RoleAdmin}},
	{"/admin", session.RoleGuard{Role: user.RoleAdmin}},
	{"/admin/reports", session.ScopedDataGuard{Role: user.RoleAdmin, Prefix: "/admin/reports"}},
	{session.RouteTeacherDashboard, session.RoleGuard{Role: user.RoleTeacher}},
	{session.RouteStudentDashboard, session.RoleGuard{Role: user.RoleStudent}},
}

func guardFor(route string) (session.Guard, bool) {
	var (
		found  session.Guard
		length = -1
	)
	for _, rg := range routeGuards {
		if (route == rg.prefix || strings.HasPrefix(route, rg.prefix+"/")) && len(rg.prefix) > length {
			found, length = rg.guard, len(rg.prefix)
		}
	}
	return found, found != nil
}

// open shows which view the session lands on when navigating to route.
func (cli *commandLine) open(route string) error {
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	route = strings.TrimRight(route, "/")
	if route == "" {
		route = session.LandingRoute(cli.container.Session().User.Role)
		if !cli.container.Session().IsAuthenticated {
			route = session.RouteLogin
		}
	}

	g, ok := guardFor(route)
	if !ok {
		return errors.Errorf("%s: no such view", route)
	}
	if d := g.Check(cli.container.Session(), route); !d.Allow {
		fmt.Fprintf(cli.out, "redirected to %s\n", d.Redirect)
		return nil
	}
	fmt.Fprintf(cli.out, "opened %s\n", route)
	return nil
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.RFC1123)
}
