package echoweb

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/core/user"
	"github.com/trezcool/masomo-dashboard/services/masomoapi"
)

const (
	routeLogout        = "/logout"
	routeNotifications = "/notifications"
	routeReports       = "/admin/reports"
)

// viewModel is what a dashboard view renders.
type viewModel struct {
	View    string          `json:"view"`
	Session session.Session `json:"session"`
}

func (s *Server) registerRoutes() {
	public := guardMiddleware(session.PublicGuard{})
	common := guardMiddleware(session.CommonGuard{})
	admin := guardMiddleware(session.RoleGuard{Role: user.RoleAdmin})
	teacher := guardMiddleware(session.RoleGuard{Role: user.RoleTeacher})
	student := guardMiddleware(session.RoleGuard{Role: user.RoleStudent})
	reports := guardMiddleware(session.ScopedDataGuard{Role: user.RoleAdmin, Prefix: routeReports})

	s.app.GET("/", s.home)

	// anonymous only
	s.app.GET(session.RouteLogin, view("login"), public)
	s.app.POST(session.RouteLogin, s.login, public)
	s.app.GET(session.RouteRegister, view("register"), public)
	s.app.POST(session.RouteRegister, s.register, public)
	s.app.GET(session.RouteResetPassword, view("reset-password"), public)
	s.app.POST(session.RouteResetPassword, s.resetPassword, public)

	s.app.POST(routeLogout, s.logout)

	// any authenticated user
	s.app.GET(session.RouteProfile, view("profile"), common)
	s.app.PUT(session.RouteProfile, s.updateProfile, common)
	s.app.GET(routeNotifications, view("notifications"), common)

	// admin portal
	s.app.GET(session.RouteGeneralDashboard, view("dashboard"), admin)
	adminGrp := s.app.Group("/admin")
	adminGrp.GET("/members", view("members"), admin)
	adminGrp.GET("/promotions", view("promotions"), admin)
	adminGrp.GET("/classes", view("classes"), admin)
	adminGrp.GET("/courses", view("courses"), admin)
	adminGrp.GET("/reports", view("reports"), reports)
	adminGrp.GET("/reports/*", view("reports"), reports)

	// teacher portal
	s.app.GET(session.RouteTeacherDashboard, view("teacher-dashboard"), teacher)
	s.app.GET(session.RouteTeacherDashboard+"/courses", view("teacher-courses"), teacher)
	s.app.GET(session.RouteTeacherDashboard+"/grades", view("teacher-grades"), teacher)

	// student portal
	s.app.GET(session.RouteStudentDashboard, view("student-dashboard"), student)
	s.app.GET(session.RouteStudentDashboard+"/courses", view("student-courses"), student)
	s.app.GET(session.RouteStudentDashboard+"/grades", view("student-grades"), student)
}

// view renders the named view for the session of the device.
func view(name string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		dev, err := getContextDevice(ctx)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, viewModel{View: name, Session: dev.container.Session()})
	}
}

func (s *Server) home(ctx echo.Context) error {
	dev, err := getContextDevice(ctx)
	if err != nil {
		return err
	}
	if sess := dev.container.Session(); sess.IsAuthenticated {
		return ctx.Redirect(http.StatusFound, session.LandingRoute(sess.User.Role))
	}
	return ctx.Redirect(http.StatusFound, session.RouteLogin)
}

func (s *Server) login(ctx echo.Context) error {
	dev, err := getContextDevice(ctx)
	if err != nil {
		return err
	}

	var creds user.Credentials
	if err = ctx.Bind(&creds); err != nil {
		return errors.Wrap(err, "binding data")
	}
	if err = creds.Validate(s.Validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	p, err := s.API.Login(reqCtx, creds)
	if err != nil {
		switch errors.Cause(err) {
		case masomoapi.ErrInvalidCredentials:
			return errLoginFailed
		case masomoapi.ErrNoExpiry:
			return echo.NewHTTPError(http.StatusBadGateway, "login response carries no expiry").SetInternal(err)
		}
		return errors.Wrap(err, "logging in")
	}
	if err = dev.container.Authenticate(reqCtx, p); err != nil {
		return errors.Wrap(err, "authenticating session")
	}
	s.Logger.Info("user logged in", p.User, map[string]interface{}{"device": dev.id})
	return ctx.Redirect(http.StatusSeeOther, session.LandingRoute(p.User.Role))
}

func (s *Server) register(ctx echo.Context) error {
	var nu user.NewUser
	if err := ctx.Bind(&nu); err != nil {
		return errors.Wrap(err, "binding data")
	}
	if err := nu.Validate(s.Validate); err != nil {
		return err
	}
	if err := s.API.Register(ctx.Request().Context(), nu); err != nil {
		return errors.Wrap(err, "registering user")
	}
	return ctx.Redirect(http.StatusSeeOther, session.RouteLogin)
}

func (s *Server) resetPassword(ctx echo.Context) error {
	var pr user.PasswordResetRequest
	if err := ctx.Bind(&pr); err != nil {
		return errors.Wrap(err, "binding data")
	}
	if err := pr.Validate(s.Validate); err != nil {
		return err
	}
	if err := s.API.RequestPasswordReset(ctx.Request().Context(), pr); err != nil {
		return errors.Wrap(err, "requesting password reset")
	}
	return ctx.JSON(http.StatusAccepted, echo.Map{"message": "if the address is known, a reset link is on its way"})
}

func (s *Server) logout(ctx echo.Context) error {
	dev, err := getContextDevice(ctx)
	if err != nil {
		return err
	}
	if err = dev.container.Logout(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "logging out")
	}
	return ctx.Redirect(http.StatusSeeOther, session.RouteLogin)
}

func (s *Server) updateProfile(ctx echo.Context) error {
	dev, err := getContextDevice(ctx)
	if err != nil {
		return err
	}

	var uu user.UpdateUser
	if err = ctx.Bind(&uu); err != nil {
		return errors.Wrap(err, "binding data")
	}
	if err = uu.Validate(s.Validate); err != nil {
		return err
	}
	if uu.IsEmpty() {
		return errEmptyUpdate
	}

	reqCtx := ctx.Request().Context()
	sess := dev.container.Session()
	usr, err := s.API.UpdateProfile(reqCtx, sess.Token, sess.User.ID, uu)
	if err != nil {
		if errors.Cause(err) == masomoapi.ErrUnauthorized {
			// the API no longer accepts the token
			if err = dev.container.Logout(reqCtx); err != nil {
				return errors.Wrap(err, "logging out")
			}
			return ctx.Redirect(http.StatusSeeOther, session.RouteLogin)
		}
		return errors.Wrap(err, "updating profile")
	}

	if err = dev.container.UpdateUserInfo(reqCtx, uu.Saved(usr)); err != nil {
		if err == session.ErrNotAuthenticated {
			return ctx.Redirect(http.StatusSeeOther, session.RouteLogin)
		}
		return errors.Wrap(err, "updating session user")
	}
	return ctx.JSON(http.StatusOK, viewModel{View: "profile", Session: dev.container.Session()})
}
