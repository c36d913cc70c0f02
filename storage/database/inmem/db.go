package inmemdb

import (
	"sync"

	"github.com/mzazilink/backend/core/account"
	"github.com/mzazilink/backend/core/link"
)

// DB is an in-memory stand-in for the real database, used in tests and local
// tinkering. One mutex covers all tables so multi-table writes stay atomic,
// mirroring the transactions of the SQL implementation.
type DB struct {
	mu         sync.RWMutex
	links      map[string]*link.GuardianLinkRequest
	audits     []link.AuditEntry
	incidents  map[string]*link.Incident
	retentions map[string]*link.Retention
	accounts   map[string]*account.Account
	guardians  map[string]string // guardian ID -> school ID
	students   map[string]string // student ID -> school ID
}

func NewDB() *DB {
	return &DB{
		links:      make(map[string]*link.GuardianLinkRequest),
		incidents:  make(map[string]*link.Incident),
		retentions: make(map[string]*link.Retention),
		accounts:   make(map[string]*account.Account),
		guardians:  make(map[string]string),
		students:   make(map[string]string),
	}
}
