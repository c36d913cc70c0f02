package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/mzazilink/backend/core/account"
)

type AccountRepository struct {
	db *sqlx.DB
}

var _ account.Repository = (*AccountRepository)(nil)

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (repo *AccountRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excluded ...account.Account) error {
	exclIDs := make([]string, 0, len(excluded))
	for _, acct := range excluded {
		exclIDs = append(exclIDs, acct.ID)
	}

	q := `SELECT username, email FROM account WHERE (username = ? OR email = ?)`
	args := []interface{}{username, email}
	if len(exclIDs) > 0 {
		var err error
		q, args, err = sqlx.In(q+` AND id NOT IN (?)`, username, email, exclIDs)
		if err != nil {
			return errors.Wrap(err, "checking username uniqueness")
		}
	}

	var row struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	err := repo.db.GetContext(ctx, &row, repo.db.Rebind(q+` LIMIT 1`), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Wrap(err, "checking username uniqueness")
	}
	if row.Username == username {
		return account.ErrUsernameExists
	}
	return account.ErrEmailExists
}

func (repo *AccountRepository) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.ID = uuid.NewString()
	q := `INSERT INTO account (id, school_id, name, username, email, role, is_active, password_hash,
			created_at, updated_at, last_login)
		VALUES (:id, :school_id, :name, :username, :email, :role, :is_active, :password_hash,
			:created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, acct); err != nil {
		return account.Account{}, errors.Wrap(err, "inserting account")
	}
	return acct, nil
}

func (repo *AccountRepository) GetAccountByID(ctx context.Context, id string) (account.Account, error) {
	var acct account.Account
	if err := repo.db.GetContext(ctx, &acct, `SELECT * FROM account WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, account.ErrNotFound
		}
		return account.Account{}, errors.Wrap(err, "getting account")
	}
	return acct, nil
}

func (repo *AccountRepository) GetAccountByUsernameOrEmail(ctx context.Context, username string) (account.Account, error) {
	var acct account.Account
	q := `SELECT * FROM account WHERE username = $1 OR email = $1`
	if err := repo.db.GetContext(ctx, &acct, q, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, account.ErrNotFound
		}
		return account.Account{}, errors.Wrap(err, "getting account")
	}
	return acct, nil
}

func (repo *AccountRepository) QueryAllAccounts(ctx context.Context) ([]account.Account, error) {
	accts := make([]account.Account, 0)
	if err := repo.db.SelectContext(ctx, &accts, `SELECT * FROM account ORDER BY created_at`); err != nil {
		return nil, errors.Wrap(err, "querying accounts")
	}
	return accts, nil
}

func (repo *AccountRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := repo.db.ExecContext(ctx, `UPDATE account SET last_login = $1 WHERE id = $2`, at, id)
	if err != nil {
		return errors.Wrap(err, "recording last login")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return account.ErrNotFound
	}
	return nil
}
