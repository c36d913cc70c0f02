package inmemdb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mzazilink/backend/core/account"
)

type AccountRepository struct {
	db *DB
}

var _ account.Repository = (*AccountRepository)(nil)

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (repo *AccountRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excluded ...account.Account) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, acct := range repo.db.accounts {
		if isExcluded(*acct, excluded) {
			continue
		}
		if acct.Username == username {
			return account.ErrUsernameExists
		}
		if acct.Email == email {
			return account.ErrEmailExists
		}
	}
	return nil
}

func (repo *AccountRepository) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	acct.ID = uuid.NewString()
	repo.db.accounts[acct.ID] = &acct
	return acct, nil
}

func (repo *AccountRepository) GetAccountByID(ctx context.Context, id string) (account.Account, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if acct, ok := repo.db.accounts[id]; ok {
		return *acct, nil
	}
	return account.Account{}, account.ErrNotFound
}

func (repo *AccountRepository) GetAccountByUsernameOrEmail(ctx context.Context, username string) (account.Account, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, acct := range repo.db.accounts {
		if acct.Username == username || acct.Email == username {
			return *acct, nil
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (repo *AccountRepository) QueryAllAccounts(ctx context.Context) ([]account.Account, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	accts := make([]account.Account, 0, len(repo.db.accounts))
	for _, acct := range repo.db.accounts {
		accts = append(accts, *acct)
	}
	return accts, nil
}

func (repo *AccountRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	acct, ok := repo.db.accounts[id]
	if !ok {
		return account.ErrNotFound
	}
	acct.LastLogin = at
	return nil
}

func isExcluded(acct account.Account, excluded []account.Account) bool {
	for _, ex := range excluded {
		if ex.ID == acct.ID {
			return true
		}
	}
	return false
}
