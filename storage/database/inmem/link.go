package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/mzazilink/backend/core/link"
)

type LinkRepository struct {
	db *DB
}

var _ link.Repository = (*LinkRepository)(nil)

func NewLinkRepository(db *DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// blockingDuplicate reports whether an existing request blocks a new one for
// the same pair: any non-terminal request does, except an activated link when
// the new request asks for a strictly higher tier (a tier upgrade).
func (repo *LinkRepository) blockingDuplicate(req link.GuardianLinkRequest) bool {
	for _, r := range repo.db.links {
		if r.GuardianID != req.GuardianID || r.StudentID != req.StudentID || r.Status.Terminal() {
			continue
		}
		if r.Status == link.StatusActivated && req.Tier.Rank() > r.Tier.Rank() {
			continue
		}
		return true
	}
	return false
}

func (repo *LinkRepository) appendEntries(linkRequestID string, entries []link.AuditEntry) {
	for _, e := range entries {
		e.ID = uuid.NewString()
		if e.LinkRequestID == "" {
			e.LinkRequestID = linkRequestID
		}
		repo.db.audits = append(repo.db.audits, e)
	}
}

func (repo *LinkRepository) CreateRequest(ctx context.Context, req link.GuardianLinkRequest, entries ...link.AuditEntry) (link.GuardianLinkRequest, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if repo.blockingDuplicate(req) {
		return link.GuardianLinkRequest{}, link.ErrDuplicatePending
	}

	req.ID = uuid.NewString()
	repo.db.links[req.ID] = &req
	repo.appendEntries(req.ID, entries)
	return req, nil
}

func (repo *LinkRepository) GetRequest(ctx context.Context, schoolID, id string) (link.GuardianLinkRequest, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if r, ok := repo.db.links[id]; ok && r.SchoolID == schoolID {
		return *r, nil
	}
	return link.GuardianLinkRequest{}, link.ErrNotFound
}

// updateLocked applies a version-guarded write; the caller holds the lock.
func (repo *LinkRepository) updateLocked(req link.GuardianLinkRequest) (link.GuardianLinkRequest, error) {
	orig, ok := repo.db.links[req.ID]
	if !ok {
		return link.GuardianLinkRequest{}, link.ErrNotFound
	}
	if orig.Version != req.Version {
		return link.GuardianLinkRequest{}, link.ErrConcurrentModification
	}

	req.Version++
	repo.db.links[req.ID] = &req
	return req, nil
}

func (repo *LinkRepository) UpdateRequest(ctx context.Context, req link.GuardianLinkRequest, entries []link.AuditEntry, tomb *link.Retention) (link.GuardianLinkRequest, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	updated, err := repo.updateLocked(req)
	if err != nil {
		return link.GuardianLinkRequest{}, err
	}
	repo.appendEntries(req.ID, entries)
	if tomb != nil {
		t := *tomb
		t.ID = uuid.NewString()
		repo.db.retentions[t.ID] = &t
	}
	return updated, nil
}

func (repo *LinkRepository) ActivateRequest(ctx context.Context, req link.GuardianLinkRequest, entries []link.AuditEntry, prior *link.GuardianLinkRequest, priorEntries []link.AuditEntry) (link.GuardianLinkRequest, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig := repo.db.links[req.ID]
	updated, err := repo.updateLocked(req)
	if err != nil {
		return link.GuardianLinkRequest{}, err
	}
	repo.appendEntries(req.ID, entries)
	if prior != nil {
		if _, err = repo.updateLocked(*prior); err != nil {
			// roll the activation back; the whole write is one transaction
			repo.db.links[req.ID] = orig
			repo.db.audits = repo.db.audits[:len(repo.db.audits)-len(entries)]
			return link.GuardianLinkRequest{}, err
		}
		repo.appendEntries(prior.ID, priorEntries)
	}
	return updated, nil
}

func (repo *LinkRepository) ActiveRequest(ctx context.Context, guardianID, studentID string) (link.GuardianLinkRequest, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, r := range repo.db.links {
		if r.GuardianID == guardianID && r.StudentID == studentID && r.Status == link.StatusActivated {
			return *r, nil
		}
	}
	return link.GuardianLinkRequest{}, link.ErrNotFound
}

func (repo *LinkRepository) PendingRequests(ctx context.Context, schoolID string) ([]link.GuardianLinkRequest, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	reqs := make([]link.GuardianLinkRequest, 0)
	for _, r := range repo.db.links {
		if r.SchoolID != schoolID {
			continue
		}
		if r.Status == link.StatusPendingReview || r.Status == link.StatusPendingConfirmation {
			reqs = append(reqs, *r)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

func (repo *LinkRepository) History(ctx context.Context, schoolID, linkRequestID string) ([]link.AuditEntry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := make([]link.AuditEntry, 0)
	if r, ok := repo.db.links[linkRequestID]; !ok || r.SchoolID != schoolID {
		return entries, nil
	}
	for i := len(repo.db.audits) - 1; i >= 0; i-- { // newest first
		if repo.db.audits[i].LinkRequestID == linkRequestID {
			entries = append(entries, repo.db.audits[i])
		}
	}
	return entries, nil
}

func (repo *LinkRepository) CreateIncident(ctx context.Context, inc link.Incident) (link.Incident, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	inc.ID = uuid.NewString()
	repo.db.incidents[inc.ID] = &inc
	return inc, nil
}

func (repo *LinkRepository) GetIncident(ctx context.Context, schoolID, id string) (link.Incident, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if inc, ok := repo.db.incidents[id]; ok && inc.SchoolID == schoolID {
		return *inc, nil
	}
	return link.Incident{}, link.ErrIncidentNotFound
}

func (repo *LinkRepository) UpdateIncident(ctx context.Context, inc link.Incident) (link.Incident, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.incidents[inc.ID]; !ok {
		return link.Incident{}, link.ErrIncidentNotFound
	}
	repo.db.incidents[inc.ID] = &inc
	return inc, nil
}

func (repo *LinkRepository) QueryIncidents(ctx context.Context, schoolID string) ([]link.Incident, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	incs := make([]link.Incident, 0)
	for _, inc := range repo.db.incidents {
		if inc.SchoolID == schoolID {
			incs = append(incs, *inc)
		}
	}
	sort.Slice(incs, func(i, j int) bool { return incs[i].DiscoveredAt.After(incs[j].DiscoveredAt) })
	return incs, nil
}

func (repo *LinkRepository) GetRetention(ctx context.Context, schoolID, id string) (link.Retention, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if t, ok := repo.db.retentions[id]; ok && t.SchoolID == schoolID {
		return *t, nil
	}
	return link.Retention{}, link.ErrRetentionNotFound
}

func (repo *LinkRepository) QueryRetentions(ctx context.Context, schoolID string) ([]link.Retention, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	tombs := make([]link.Retention, 0)
	for _, t := range repo.db.retentions {
		if t.SchoolID == schoolID {
			tombs = append(tombs, *t)
		}
	}
	sort.Slice(tombs, func(i, j int) bool { return tombs[i].DeletedAt.After(tombs[j].DeletedAt) })
	return tombs, nil
}

func (repo *LinkRepository) RecoverRetention(ctx context.Context, tomb link.Retention, req link.GuardianLinkRequest, entries ...link.AuditEntry) (link.GuardianLinkRequest, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.retentions[tomb.ID]
	if !ok {
		return link.GuardianLinkRequest{}, link.ErrRetentionNotFound
	}
	if orig.RecoveredAt.Valid {
		return link.GuardianLinkRequest{}, link.ErrAlreadyRelinked
	}
	if repo.blockingDuplicate(req) {
		return link.GuardianLinkRequest{}, link.ErrDuplicatePending
	}

	req.ID = uuid.NewString()
	repo.db.links[req.ID] = &req
	repo.db.retentions[tomb.ID] = &tomb
	repo.appendEntries(req.ID, entries)
	return req, nil
}

func (repo *LinkRepository) PurgeRetentions(ctx context.Context, before time.Time) (int64, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	var n int64
	for id, t := range repo.db.retentions {
		if !t.RecoveredAt.Valid && t.RetentionUntil.Before(before) {
			delete(repo.db.retentions, id)
			n++
		}
	}
	return n, nil
}

// SeedRequest inserts a request as-is, bypassing the duplicate guard. Test helper.
func (repo *LinkRepository) SeedRequest(req link.GuardianLinkRequest) link.GuardianLinkRequest {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Version == 0 {
		req.Version = 1
	}
	repo.db.links[req.ID] = &req
	return req
}

// SeedRetention inserts a tombstone as-is. Test helper.
func (repo *LinkRepository) SeedRetention(tomb link.Retention) link.Retention {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if tomb.ID == "" {
		tomb.ID = uuid.NewString()
	}
	repo.db.retentions[tomb.ID] = &tomb
	return tomb
}

// Code returns the stored confirmation code for a request. Test helper; the
// service never exposes it.
func (repo *LinkRepository) Code(id string) null.String {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if r, ok := repo.db.links[id]; ok {
		return r.ConfirmationCode
	}
	return null.String{}
}
