package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type (
	APISchool struct {
		ID          int    `json:"id"`
		Name        string `json:"name"`
		Code        string `json:"code,omitempty"`
		CurrentYear string `json:"current_year,omitempty"`
	}

	APIUser struct {
		ID      int        `json:"id"`
		Name    string     `json:"name"`
		Email   string     `json:"email"`
		Phone   string     `json:"phone,omitempty"`
		Address string     `json:"address,omitempty"`
		Roles   []string   `json:"roles"`
		School  *APISchool `json:"school,omitempty"`
	}

	// APIAccount is a user known to the FakeAPI.
	APIAccount struct {
		User      APIUser
		Username  string
		Password  string
		Token     string
		ExpiresAt time.Time // zero: omitted from the login response
	}
)

// FakeAPI is an in-process stand-in for the remote Masomo API.
type FakeAPI struct {
	URL string // base URL, ending in /v1

	mu         sync.Mutex
	accounts   map[string]*APIAccount // by username
	Registered []map[string]interface{}
	Resets     []string
	Calls      []string
}

func NewFakeAPI(t *testing.T, accounts ...APIAccount) *FakeAPI {
	api := &FakeAPI{accounts: make(map[string]*APIAccount)}
	for i := range accounts {
		acc := accounts[i]
		api.accounts[acc.Username] = &acc
	}

	e := echo.New()
	e.HideBanner = true
	v1 := e.Group("/v1")
	v1.POST("/users/login", api.login)
	v1.POST("/users/register", api.register)
	v1.POST("/users/password-reset", api.resetPassword)
	v1.PUT("/users/:id", api.updateUser)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	api.URL = srv.URL + "/v1"
	return api
}

// Account returns the current state of the account of username.
func (api *FakeAPI) Account(username string) APIAccount {
	api.mu.Lock()
	defer api.mu.Unlock()
	return *api.accounts[username]
}

func (api *FakeAPI) record(ctx echo.Context) {
	api.Calls = append(api.Calls, ctx.Request().Method+" "+ctx.Request().URL.Path)
}

func (api *FakeAPI) login(ctx echo.Context) error {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.record(ctx)

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := ctx.Bind(&creds); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	acc, ok := api.accounts[creds.Username]
	if !ok || acc.Password != creds.Password {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	resp := echo.Map{
		"user":       acc.User,
		"token":      acc.Token,
		"has_school": acc.User.School != nil,
	}
	if !acc.ExpiresAt.IsZero() {
		resp["expires_at"] = acc.ExpiresAt.Format(time.RFC3339Nano)
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *FakeAPI) register(ctx echo.Context) error {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.record(ctx)

	var body map[string]interface{}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	for _, acc := range api.accounts {
		if acc.User.Email == body["email"] {
			return ctx.JSON(http.StatusBadRequest, echo.Map{"email": "a user with this email already exists"})
		}
	}
	api.Registered = append(api.Registered, body)
	return ctx.NoContent(http.StatusCreated)
}

func (api *FakeAPI) resetPassword(ctx echo.Context) error {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.record(ctx)

	var body struct {
		Email string `json:"email"`
	}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	api.Resets = append(api.Resets, body.Email)
	return ctx.NoContent(http.StatusNoContent)
}

func (api *FakeAPI) updateUser(ctx echo.Context) error {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.record(ctx)

	id, _ := strconv.Atoi(ctx.Param("id"))
	token := strings.TrimPrefix(ctx.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")

	var acc *APIAccount
	for _, a := range api.accounts {
		if a.User.ID == id {
			acc = a
		}
	}
	if acc == nil || token == "" || token != acc.Token {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired jwt"})
	}

	var body struct {
		Name    *string    `json:"name"`
		Email   *string    `json:"email"`
		Phone   *string    `json:"phone"`
		Address *string    `json:"address"`
		School  *APISchool `json:"school"`
	}
	if err := ctx.Bind(&body); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if body.Name != nil {
		acc.User.Name = *body.Name
	}
	if body.Email != nil {
		acc.User.Email = *body.Email
	}
	if body.Phone != nil {
		acc.User.Phone = *body.Phone
	}
	if body.Address != nil {
		acc.User.Address = *body.Address
	}
	if body.School != nil {
		acc.User.School = body.School
	}
	return ctx.JSON(http.StatusOK, acc.User)
}
