package user

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core"
)

// Role is the dashboard portal a User belongs to.
type Role uint8

// Roles
const (
	RoleNone Role = iota // anonymous
	RoleAdmin
	RoleTeacher
	RoleStudent
)

var (
	AllRoles = []Role{RoleAdmin, RoleTeacher, RoleStudent}

	// API role prefixes, eg. "admin:principal"
	rolePrefixes = map[Role]string{
		RoleAdmin:   "admin:",
		RoleTeacher: "teacher:",
		RoleStudent: "student:",
	}

	ErrInvalidRole = errors.New("invalid role")
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return ""
	case RoleAdmin:
		return "admin"
	case RoleTeacher:
		return "teacher"
	case RoleStudent:
		return "student"
	default:
		return "unknown"
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	case RoleNone:
		return false
	default:
		return false
	}
}

// ParseRole accepts both portal names ("teacher") and API roles ("admin:principal").
func ParseRole(s string) (Role, error) {
	s = core.CleanString(s, true /* lower */)
	if s == "" {
		return RoleNone, nil
	}
	for _, role := range AllRoles {
		if s == role.String() || strings.HasPrefix(s, rolePrefixes[role]) {
			return role, nil
		}
	}
	return RoleNone, errors.Wrapf(ErrInvalidRole, "%q", s)
}

// RoleFromAPIRoles picks the highest portal among the API roles: admin > teacher > student.
func RoleFromAPIRoles(roles []string) Role {
	best := RoleNone
	for _, r := range roles {
		role, err := ParseRole(r)
		if err != nil {
			continue
		}
		if best == RoleNone || role < best {
			best = role
		}
	}
	return best
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// School is the institution a User is linked to.
type School struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code,omitempty"`
	CurrentYear string `json:"current_year,omitempty"` // active academic year, eg. "2026-2027"
}

// User is the identity record of the logged-in user.
type User struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone,omitempty"`
	Address string  `json:"address,omitempty"`
	Role    Role    `json:"role"`
	School  *School `json:"school,omitempty"`
}

// Anonymous is the identity of nobody.
func Anonymous() User {
	return User{}
}

func (u User) IsAnonymous() bool {
	return u.ID == 0 && u.Role == RoleNone
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	if u.School != nil {
		sch := *u.School
		u.School = &sch
	}
	return u
}

// UpdateUser defines what information may be provided to modify the identity record.
// nil fields are left untouched.
type UpdateUser struct {
	Name    *string `json:"name,omitempty" validate:"omitnil,notblank"`
	Email   *string `json:"email,omitempty" validate:"omitnil,email"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,e164"`
	Address *string `json:"address,omitempty"`
	School  *School `json:"school,omitempty"`
}

func (uu *UpdateUser) Validate(validate *validator.Validate) error {
	if uu.Name != nil {
		name := core.CleanString(*uu.Name)
		uu.Name = &name
	}
	if uu.Email != nil {
		email := core.CleanString(*uu.Email, true /* lower */)
		uu.Email = &email
	}
	if uu.Phone != nil {
		phone := core.CleanString(*uu.Phone)
		uu.Phone = &phone
	}
	if uu.Address != nil {
		addr := core.CleanString(*uu.Address)
		uu.Address = &addr
	}
	return validate.Struct(uu)
}

func (uu UpdateUser) IsEmpty() bool {
	return uu.Name == nil && uu.Email == nil && uu.Phone == nil && uu.Address == nil && uu.School == nil
}

// Merge shallow-merges the set fields of uu into u.
func (uu UpdateUser) Merge(u User) User {
	u = u.Clone()
	if uu.Name != nil {
		u.Name = *uu.Name
	}
	if uu.Email != nil {
		u.Email = *uu.Email
	}
	if uu.Phone != nil {
		u.Phone = *uu.Phone
	}
	if uu.Address != nil {
		u.Address = *uu.Address
	}
	if uu.School != nil {
		sch := *uu.School
		u.School = &sch
	}
	return u
}

// Saved keeps the fields set in uu, valued as the API saved them in u.
func (uu UpdateUser) Saved(u User) UpdateUser {
	var out UpdateUser
	if uu.Name != nil {
		out.Name = &u.Name
	}
	if uu.Email != nil {
		out.Email = &u.Email
	}
	if uu.Phone != nil {
		out.Phone = &u.Phone
	}
	if uu.Address != nil {
		out.Address = &u.Address
	}
	if uu.School != nil && u.School != nil {
		sch := *u.School
		out.School = &sch
	}
	return out
}

// Credentials are submitted by the login view.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (c *Credentials) Validate(validate *validator.Validate) error {
	c.Username = core.CleanString(c.Username, true /* lower */)
	return validate.Struct(c)
}

// NewUser is submitted by the register view.
type NewUser struct {
	Name            string `json:"name" validate:"required,notblank"`
	Username        string `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	return validate.Struct(nu)
}

// PasswordResetRequest is submitted by the reset-password view.
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
