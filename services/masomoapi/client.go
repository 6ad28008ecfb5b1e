// Package masomoapi is a client of the remote Masomo API: login, registration, password
// reset and profile updates.
package masomoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/core/user"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNoExpiry           = errors.New("login response carries no expiry")
)

// APIError is a non-validation error answered by the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("masomo api: %d %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func NewFromConfig(conf *core.Config) *Client {
	return New(conf.APIBaseURL, conf.APITimeout)
}

type (
	apiSchool struct {
		ID          int    `json:"id"`
		Name        string `json:"name"`
		Code        string `json:"code"`
		CurrentYear string `json:"current_year"`
	}

	apiUser struct {
		ID      int        `json:"id"`
		Name    string     `json:"name"`
		Email   string     `json:"email"`
		Phone   string     `json:"phone"`
		Address string     `json:"address"`
		Roles   []string   `json:"roles"`
		School  *apiSchool `json:"school"`
	}

	loginResponse struct {
		User      apiUser    `json:"user"`
		Token     string     `json:"token"`
		ExpiresAt *time.Time `json:"expires_at"`
		HasSchool *bool      `json:"has_school"`
	}
)

func (au apiUser) toUser() user.User {
	usr := user.User{
		ID:      au.ID,
		Name:    au.Name,
		Email:   au.Email,
		Phone:   au.Phone,
		Address: au.Address,
		Role:    user.RoleFromAPIRoles(au.Roles),
	}
	if au.School != nil {
		usr.School = &user.School{
			ID:          au.School.ID,
			Name:        au.School.Name,
			Code:        au.School.Code,
			CurrentYear: au.School.CurrentYear,
		}
	}
	return usr
}

// Login exchanges creds for a session Payload.
func (c *Client) Login(ctx context.Context, creds user.Credentials) (session.Payload, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/users/login", "", creds, &resp)
	if err != nil {
		if errors.Cause(err) == ErrUnauthorized {
			return session.Payload{}, ErrInvalidCredentials
		}
		return session.Payload{}, err
	}

	var expiresAt time.Time
	if resp.ExpiresAt != nil {
		expiresAt = *resp.ExpiresAt
	} else if expiresAt, err = tokenExpiry(resp.Token); err != nil {
		return session.Payload{}, err
	}

	usr := resp.User.toUser()
	hasSchool := usr.School != nil
	if resp.HasSchool != nil {
		hasSchool = *resp.HasSchool
	}
	return session.Payload{
		User:      usr,
		Token:     resp.Token,
		ExpiresAt: expiresAt,
		HasSchool: hasSchool,
	}, nil
}

// tokenExpiry reads the exp claim of a JWT. The signature is the API's business.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, errors.Wrap(ErrNoExpiry, err.Error())
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}

func (c *Client) Register(ctx context.Context, nu user.NewUser) error {
	return c.do(ctx, http.MethodPost, "/users/register", "", nu, nil)
}

func (c *Client) RequestPasswordReset(ctx context.Context, pr user.PasswordResetRequest) error {
	return c.do(ctx, http.MethodPost, "/users/password-reset", "", pr, nil)
}

// UpdateProfile saves uu on the API and returns the user as the API now knows it.
func (c *Client) UpdateProfile(ctx context.Context, token string, id int, uu user.UpdateUser) (user.User, error) {
	var au apiUser
	if err := c.do(ctx, http.MethodPut, "/users/"+strconv.Itoa(id), token, uu, &au); err != nil {
		return user.User{}, err
	}
	return au.toUser(), nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "reading response")
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decoding response")
}

// decodeError understands the API error bodies: {"error": msg} or {field: msg}.
func decodeError(status int, data []byte) error {
	var body map[string]interface{}
	_ = json.Unmarshal(data, &body)
	msg, hasMsg := body["error"].(string)
	if !hasMsg {
		msg = http.StatusText(status)
	}
	if status == http.StatusUnauthorized {
		return errors.Wrap(ErrUnauthorized, msg)
	}
	if hasMsg {
		return &APIError{Status: status, Message: msg}
	}
	if status != http.StatusBadRequest || len(body) == 0 {
		return &APIError{Status: status, Message: http.StatusText(status)}
	}

	fields := make([]string, 0, len(body))
	for fld := range body {
		fields = append(fields, fld)
	}
	sort.Strings(fields)
	flds := make([]core.FieldError, 0, len(fields))
	for _, fld := range fields {
		flds = append(flds, core.FieldError{Field: fld, Error: fmt.Sprint(body[fld])})
	}
	return core.NewValidationError(nil, flds...)
}
