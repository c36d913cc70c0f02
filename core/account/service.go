package account

import (
	"context"
	"errors"
	"time"

	"github.com/mzazilink/backend/core"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrEmailExists    = errors.New("an account with this email already exists")
	ErrUsernameExists = errors.New("an account with this username already exists")
	// ErrAuthenticationFailed deliberately does not say which part was wrong.
	ErrAuthenticationFailed = errors.New("invalid username or password")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excluded ...Account) error
		CreateAccount(ctx context.Context, acct Account) (Account, error)
		GetAccountByID(ctx context.Context, id string) (Account, error)
		GetAccountByUsernameOrEmail(ctx context.Context, username string) (Account, error)
		QueryAllAccounts(ctx context.Context) ([]Account, error)
		SetLastLogin(ctx context.Context, id string, at time.Time) error
	}

	Service interface {
		CheckUniqueness(ctx context.Context, uname, email string, excluded ...Account) error
		Create(ctx context.Context, na NewAccount) (Account, error)
		GetByID(ctx context.Context, id string) (Account, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (Account, error)
		QueryAll(ctx context.Context) ([]Account, error)
		Authenticate(ctx context.Context, uname, pwd string) (Account, error)
	}

	service struct {
		repo   Repository
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, logger core.Logger) Service {
	return &service{repo: repo, logger: logger}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, excluded ...Account) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, excluded...); err != nil {
		var field string
		switch {
		case errors.Is(err, ErrUsernameExists):
			field = "username"
		case errors.Is(err, ErrEmailExists):
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, na NewAccount) (Account, error) {
	now := time.Now().UTC()
	acct := Account{
		SchoolID:  na.SchoolID,
		Name:      na.Name,
		Username:  na.Username,
		Email:     na.Email,
		Role:      na.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := acct.SetPassword(na.Password); err != nil {
		return Account{}, err
	}
	return svc.repo.CreateAccount(ctx, acct)
}

func (svc *service) GetByID(ctx context.Context, id string) (Account, error) {
	return svc.repo.GetAccountByID(ctx, id)
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (Account, error) {
	return svc.repo.GetAccountByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) QueryAll(ctx context.Context) ([]Account, error) {
	return svc.repo.QueryAllAccounts(ctx)
}

func (svc *service) Authenticate(ctx context.Context, uname, pwd string) (Account, error) {
	acct, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrAuthenticationFailed
		}
		return Account{}, err
	}
	if !acct.IsActive {
		return Account{}, ErrAuthenticationFailed
	}
	if err := acct.CheckPassword(pwd); err != nil {
		return Account{}, ErrAuthenticationFailed
	}

	now := time.Now().UTC()
	if err := svc.repo.SetLastLogin(ctx, acct.ID, now); err != nil {
		svc.logger.Warn("recording last login: " + err.Error())
	}
	acct.LastLogin = now
	return acct, nil
}
