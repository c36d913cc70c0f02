package account

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mzazilink/backend/core"
)

// Account roles. A role is fixed per account; link capabilities are a
// separate, per-student concern.
const (
	RoleSchoolAdmin = "school_admin"
	RoleTeacher     = "teacher"
	RoleGuardian    = "guardian"
)

var AllRoles = []string{RoleSchoolAdmin, RoleTeacher, RoleGuardian}

type Account struct {
	ID           string    `json:"id" db:"id"`
	SchoolID     string    `json:"school_id" db:"school_id"`
	Name         string    `json:"name" db:"name"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	Role         string    `json:"role" db:"role"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login" db:"last_login"` // UTC
}

func (a *Account) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

func (a *Account) IsSchoolAdmin() bool { return a.Role == RoleSchoolAdmin }
func (a *Account) IsTeacher() bool     { return a.Role == RoleTeacher }
func (a *Account) IsGuardian() bool    { return a.Role == RoleGuardian }

// NewAccount contains information needed to create a new Account.
type NewAccount struct {
	SchoolID        string `json:"school_id" validate:"required"`
	Name            string `json:"name" validate:"required"`
	Username        string `json:"username" validate:"required,min=6"`
	Email           string `json:"email" validate:"required,email"`
	Role            string `json:"role" validate:"required,accountrole"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (na *NewAccount) Validate(ctx context.Context, svc Service) error {
	na.SchoolID = core.CleanString(na.SchoolID)
	na.Name = core.CleanString(na.Name)
	na.Username = core.CleanString(na.Username, true /* lower */)
	na.Email = core.CleanString(na.Email, true /* lower */)
	na.Role = core.CleanString(na.Role, true /* lower */)

	if err := core.ValidateStruct(na); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, na.Username, na.Email)
}

// LoginAccount is the credential pair submitted at login.
type LoginAccount struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (la *LoginAccount) Validate() error {
	la.Username = core.CleanString(la.Username, true /* lower */)
	return core.ValidateStruct(la)
}
