package link

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/mzazilink/backend/core"
)

type (
	// Repository is the transactional storage collaborator. Every mutating
	// method persists the state change and its audit entries as one atomic
	// unit; an audit write that cannot be committed aborts the whole
	// transition.
	Repository interface {
		// CreateRequest inserts the request and its audit entries. The
		// duplicate guard runs inside the same transaction: a non-terminal
		// request for the pair, or an activated link at an equal or higher
		// tier, fails with ErrDuplicatePending.
		CreateRequest(ctx context.Context, req GuardianLinkRequest, entries ...AuditEntry) (GuardianLinkRequest, error)
		GetRequest(ctx context.Context, schoolID, id string) (GuardianLinkRequest, error)
		// UpdateRequest persists req, appends entries and optionally writes a
		// retention tombstone, all in one transaction. The write is guarded
		// by req.Version; a concurrent writer wins with
		// ErrConcurrentModification.
		UpdateRequest(ctx context.Context, req GuardianLinkRequest, entries []AuditEntry, tomb *Retention) (GuardianLinkRequest, error)
		// ActivateRequest persists req's activation with its entries and, when
		// the activation completes a tier upgrade, revokes the superseded link
		// in the same transaction. prior carries the superseded link's new
		// state and is nil when no link is being replaced. Both writes are
		// version-guarded like UpdateRequest.
		ActivateRequest(ctx context.Context, req GuardianLinkRequest, entries []AuditEntry, prior *GuardianLinkRequest, priorEntries []AuditEntry) (GuardianLinkRequest, error)
		// ActiveRequest returns the activated request for the pair, if any.
		ActiveRequest(ctx context.Context, guardianID, studentID string) (GuardianLinkRequest, error)
		PendingRequests(ctx context.Context, schoolID string) ([]GuardianLinkRequest, error)
		// History returns the append-only ledger for a request, newest first,
		// scoped to the school the request belongs to.
		History(ctx context.Context, schoolID, linkRequestID string) ([]AuditEntry, error)

		CreateIncident(ctx context.Context, inc Incident) (Incident, error)
		GetIncident(ctx context.Context, schoolID, id string) (Incident, error)
		UpdateIncident(ctx context.Context, inc Incident) (Incident, error)
		QueryIncidents(ctx context.Context, schoolID string) ([]Incident, error)

		GetRetention(ctx context.Context, schoolID, id string) (Retention, error)
		QueryRetentions(ctx context.Context, schoolID string) ([]Retention, error)
		// RecoverRetention annotates the tombstone and creates the successor
		// request (+ audit) in one transaction. A tombstone already recovered
		// or a competing successor link fails with ErrAlreadyRelinked.
		RecoverRetention(ctx context.Context, tomb Retention, req GuardianLinkRequest, entries ...AuditEntry) (GuardianLinkRequest, error)
		// PurgeRetentions physically deletes unrecovered tombstones whose
		// retention window closed before `before`. Audit entries stay.
		PurgeRetentions(ctx context.Context, before time.Time) (int64, error)
	}

	// MembershipChecker confirms guardian and student belong to the school.
	MembershipChecker interface {
		CheckMembership(ctx context.Context, schoolID, guardianID, studentID string) error
	}

	// Notifier delivers a confirmation code to a guardian. It is called after
	// the state transition commits and is best-effort: a delivery failure is
	// the messaging layer's problem, never a rollback.
	Notifier interface {
		SendConfirmationCode(method, code string, expiresAt time.Time)
	}

	Service interface {
		Initiate(ctx context.Context, actor Actor, nr NewLinkRequest) (GuardianLinkRequest, error)
		Approve(ctx context.Context, actor Actor, schoolID, id string, rv ReviewLink) (GuardianLinkRequest, error)
		Confirm(ctx context.Context, actor Actor, schoolID, id string, cl ConfirmLink) (GuardianLinkRequest, error)
		Reject(ctx context.Context, actor Actor, schoolID, id string, rj RejectLink) (GuardianLinkRequest, error)
		Revoke(ctx context.Context, actor Actor, schoolID, id string, rv RevokeLink) (GuardianLinkRequest, error)
		Unlink(ctx context.Context, actor Actor, schoolID, id string, ul UnlinkLink) (GuardianLinkRequest, error)
		Recover(ctx context.Context, actor Actor, schoolID, retentionID string, rc RecoverLink) (GuardianLinkRequest, error)

		Get(ctx context.Context, schoolID, id string) (GuardianLinkRequest, error)
		Pending(ctx context.Context, schoolID string) ([]GuardianLinkRequest, error)
		History(ctx context.Context, schoolID, id string) ([]AuditEntry, error)
		Retention(ctx context.Context, schoolID, id string) (Retention, error)
		Retentions(ctx context.Context, schoolID string) ([]Retention, error)

		Capabilities(ctx context.Context, guardianID, studentID string) (Capabilities, error)
		Can(ctx context.Context, guardianID, studentID string, cap Capability) (bool, error)

		RaiseIncident(ctx context.Context, actor Actor, ni NewIncident) (Incident, error)
		ResolveIncident(ctx context.Context, actor Actor, schoolID, id string, ri ResolveIncident) (Incident, error)
		Incidents(ctx context.Context, schoolID string) ([]Incident, error)
	}

	service struct {
		repo     Repository
		members  MembershipChecker
		notifier Notifier
		logger   core.Logger
		policy   core.LinkConfig
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, members MembershipChecker, notifier Notifier, logger core.Logger, policy core.LinkConfig) Service {
	return &service{
		repo:     repo,
		members:  members,
		notifier: notifier,
		logger:   logger,
		policy:   policy,
	}
}

func (svc *service) Initiate(ctx context.Context, actor Actor, nr NewLinkRequest) (GuardianLinkRequest, error) {
	if err := nr.Validate(); err != nil {
		return GuardianLinkRequest{}, err
	}
	if err := svc.members.CheckMembership(ctx, nr.SchoolID, nr.GuardianID, nr.StudentID); err != nil {
		return GuardianLinkRequest{}, err
	}

	now := nowFunc().UTC()
	req := GuardianLinkRequest{
		SchoolID:                   nr.SchoolID,
		GuardianID:                 nr.GuardianID,
		StudentID:                  nr.StudentID,
		Relationship:               nr.Relationship,
		Tier:                       nr.Tier,
		Duration:                   nr.Duration,
		ExpiresAt:                  nr.ExpiresAt,
		Status:                     StatusPendingReview,
		InitiatedBy:                actor.ID,
		InitiatedByRole:            actor.Role,
		RequiresParentConfirmation: RequiresConfirmation(actor.Role, nr.Relationship, nr.Tier),
		ConfirmationMethod:         null.NewString(nr.ConfirmationMethod, nr.ConfirmationMethod != ""),
		VerificationNotes:          null.NewString(nr.VerificationNotes, nr.VerificationNotes != ""),
		Version:                    1,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	entry := newAuditEntry(req, ActionInitiated, "", StatusPendingReview, actor, "", map[string]string{
		"relationship_type": string(nr.Relationship),
		"permission_tier":   string(nr.Tier),
		"duration_type":     string(nr.Duration),
	})
	return svc.repo.CreateRequest(ctx, req, entry)
}

func (svc *service) Approve(ctx context.Context, actor Actor, schoolID, id string, rv ReviewLink) (GuardianLinkRequest, error) {
	if err := rv.Validate(); err != nil {
		return GuardianLinkRequest{}, err
	}
	req, err := svc.getFresh(ctx, schoolID, id)
	if err != nil {
		return GuardianLinkRequest{}, err
	}
	if req.Status != StatusPendingReview {
		return GuardianLinkRequest{}, newInvalidTransition(req.Status, EventApprove)
	}

	now := nowFunc().UTC()
	req.ReviewedBy = null.StringFrom(actor.ID)
	req.ReviewedAt = null.TimeFrom(now)
	req.ReviewNotes = null.NewString(rv.Notes, rv.Notes != "")
	req.UpdatedAt = now

	if req.RequiresParentConfirmation {
		if req.ConfirmationMethod.String == "" {
			return GuardianLinkRequest{}, core.NewValidationError(nil, core.FieldError{
				Field: "confirmation_method",
				Error: "a confirmation method is required to send the code",
			})
		}
		code, err := generateCode(svc.policy.ConfirmationCodeLength)
		if err != nil {
			return GuardianLinkRequest{}, err
		}
		req.ConfirmationCode = null.StringFrom(code)
		req.ConfirmationSentAt = null.TimeFrom(now)
		req.ConfirmationExpiresAt = null.TimeFrom(now.Add(svc.policy.ConfirmationTimeout))
		req.Status = StatusPendingConfirmation

		entry := newAuditEntry(req, ActionApproved, StatusPendingReview, StatusPendingConfirmation, actor, rv.Notes, map[string]string{
			"confirmation_method": req.ConfirmationMethod.String,
		})
		updated, err := svc.repo.UpdateRequest(ctx, req, []AuditEntry{entry}, nil)
		if err != nil {
			return GuardianLinkRequest{}, err
		}
		// delivery happens after commit; a failure here is logged by the
		// notifier and retried by the messaging layer, not by us
		svc.notifier.SendConfirmationCode(updated.ConfirmationMethod.String, code, updated.ConfirmationExpiresAt.Time)
		return updated, nil
	}

	req.Status = StatusActivated
	req.ActivatedAt = null.TimeFrom(now)
	entries := []AuditEntry{
		newAuditEntry(req, ActionApproved, StatusPendingReview, StatusActivated, actor, rv.Notes, nil),
		newAuditEntry(req, ActionActivated, StatusPendingReview, StatusActivated, actor, "", nil),
	}
	return svc.activate(ctx, actor, req, entries)
}

func (svc *service) Confirm(ctx context.Context, actor Actor, schoolID, id string, cl ConfirmLink) (GuardianLinkRequest, error) {
	if err := cl.Validate(); err != nil {
		return GuardianLinkRequest{}, err
	}
	req, err := svc.getFresh(ctx, schoolID, id)
	if err != nil {
		return GuardianLinkRequest{}, err
	}
	switch {
	case req.Status == StatusExpired:
		return GuardianLinkRequest{}, ErrCodeExpired
	case req.Status == StatusActivated && req.ConfirmedAt.Valid:
		// code already consumed; single-use
		return GuardianLinkRequest{}, ErrCodeInvalid
	case req.Status != StatusPendingConfirmation:
		return GuardianLinkRequest{}, newInvalidTransition(req.Status, EventConfirm)
	}

	now := nowFunc().UTC()
	if err := validateCode(cl.Code, req.ConfirmationCode.String, req.ConfirmationExpiresAt.Time, now); err != nil {
		return GuardianLinkRequest{}, err
	}

	req.ConfirmationCode = null.String{} // single-use
	req.ConfirmedAt = null.TimeFrom(now)
	req.ActivatedAt = null.TimeFrom(now)
	req.Status = StatusActivated
	req.UpdatedAt = now
	entries := []AuditEntry{
		newAuditEntry(req, ActionConfirmed, StatusPendingConfirmation, StatusConfirmed, actor, "", nil),
		newAuditEntry(req, ActionActivated, StatusConfirmed, StatusActivated, actor, "", nil),
	}
	return svc.activate(ctx, actor, req, entries)
}

// activate commits an activation and, when a lower-tier link for the pair is
// still active (a tier upgrade), revokes it in the same transaction so the
// pair never resolves to two activated links at once. Superseded links get no
// retention tombstone: the relationship is not removed, it continues at the
// higher tier.
func (svc *service) activate(ctx context.Context, actor Actor, req GuardianLinkRequest, entries []AuditEntry) (GuardianLinkRequest, error) {
	prior, err := svc.repo.ActiveRequest(ctx, req.GuardianID, req.StudentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return svc.repo.ActivateRequest(ctx, req, entries, nil, nil)
		}
		return GuardianLinkRequest{}, err
	}

	now := nowFunc().UTC()
	reason := "superseded by a higher-tier link"
	prior.Status = StatusRevoked
	prior.RevokedAt = null.TimeFrom(now)
	prior.RevocationReason = null.StringFrom(reason)
	prior.UpdatedAt = now
	priorEntry := newAuditEntry(prior, ActionSuperseded, StatusActivated, StatusRevoked, actor, reason, map[string]string{
		"superseded_by": req.ID,
	})
	return svc.repo.ActivateRequest(ctx, req, entries, &prior, []AuditEntry{priorEntry})
}

func (svc *service) Reject(ctx context.Context, actor Actor, schoolID, id string, rj RejectLink) (GuardianLinkRequest, error) {
	if err := rj.Validate(); err != nil {
		return GuardianLinkRequest{}, err
	}
	req, err := svc.getFresh(ctx, schoolID, id)
	if err != nil {
		return GuardianLinkRequest{}, err
	}
	if req.Status != StatusPendingReview && req.Status != StatusPendingConfirmation {
		return GuardianLinkRequest{}, newInvalidTransition(req.Status, EventReject)
	}

	now := nowFunc().UTC()
	prev := req.Status
	req.Status = StatusRejected
	req.RejectionReason = null.StringFrom(rj.Reason)
	req.ReviewedBy = null.StringFrom(actor.ID)
	req.ReviewedAt = null.TimeFrom(now)
	req.ConfirmationCode = null.String{} // dead code must not linger
	req.UpdatedAt = now
	entry := newAuditEntry(req, ActionRejected, prev, StatusRejected, actor, rj.Reason, nil)
	return svc.repo.UpdateRequest(ctx, req, []AuditEntry{entry}, nil)
}

func (svc *service) Revoke(ctx context.Context, actor Actor, schoolID, id string, rv RevokeLink) (GuardianLinkRequest, error) {
	if err := rv.Validate(); err != nil {
		return GuardianLinkRequest{}, err
	}
	return svc.terminate(ctx, actor, schoolID, id, EventRevoke, ActionRevoked, rv.Reason, nil)
}

func (svc *service) Unlink(ctx context.Context, actor Actor, schoolID, id string, ul UnlinkLink) (GuardianLinkRequest, error) {
	if err := ul.Validate(); err != nil {
		return GuardianLinkRequest{}, err
	}
	return svc.terminate(ctx, actor, schoolID, id, EventUnlink, ActionUnlinked, ul.Reason, map[string]string{
		"reason_code": ul.ReasonCode,
	})
}

// terminate ends an activated link; the tombstone write is chained into the
// same transaction as the state change so a crash can never leave a revoked
// link without its retention record.
func (svc *service) terminate(ctx context.Context, actor Actor, schoolID, id string, event Event, action, reason string, meta map[string]string) (GuardianLinkRequest, error) {
	req, err := svc.getFresh(ctx, schoolID, id)
	if err != nil {
		return GuardianLinkRequest{}, err
	}
	if req.Status != StatusActivated {
		return GuardianLinkRequest{}, newInvalidTransition(req.Status, event)
	}

	now := nowFunc().UTC()
	req.Status = StatusRevoked
	req.RevokedAt = null.TimeFrom(now)
	req.RevocationReason = null.StringFrom(reason)
	req.UpdatedAt = now

	tomb := Retention{
		SchoolID:       req.SchoolID,
		GuardianID:     req.GuardianID,
		StudentID:      req.StudentID,
		LinkRequestID:  req.ID,
		DeletedAt:      now,
		DeletedBy:      actor.ID,
		DeletedByRole:  actor.Role,
		DeletionReason: reason,
		Relationship:   req.Relationship,
		Tier:           req.Tier,
		RetentionUntil: now.Add(svc.policy.RetentionWindow),
	}
	entry := newAuditEntry(req, action, StatusActivated, StatusRevoked, actor, reason, meta)
	return svc.repo.UpdateRequest(ctx, req, []AuditEntry{entry}, &tomb)
}

func (svc *service) Recover(ctx context.Context, actor Actor, schoolID, retentionID string, rc RecoverLink) (GuardianLinkRequest, error) {
	if err := rc.Validate(); err != nil {
		return GuardianLinkRequest{}, err
	}
	tomb, err := svc.repo.GetRetention(ctx, schoolID, retentionID)
	if err != nil {
		return GuardianLinkRequest{}, err
	}

	now := nowFunc().UTC()
	if tomb.RecoveredAt.Valid {
		return GuardianLinkRequest{}, ErrAlreadyRelinked
	}
	if !now.Before(tomb.RetentionUntil) {
		return GuardianLinkRequest{}, ErrRetentionExpired
	}
	if _, err := svc.repo.ActiveRequest(ctx, tomb.GuardianID, tomb.StudentID); err == nil {
		return GuardianLinkRequest{}, ErrAlreadyRelinked
	} else if !errors.Is(err, ErrNotFound) {
		return GuardianLinkRequest{}, err
	}

	req := GuardianLinkRequest{
		SchoolID:        tomb.SchoolID,
		GuardianID:      tomb.GuardianID,
		StudentID:       tomb.StudentID,
		Relationship:    tomb.Relationship,
		Tier:            tomb.Tier,
		Duration:        DurationPermanent,
		Status:          StatusActivated,
		InitiatedBy:     actor.ID,
		InitiatedByRole: actor.Role,
		ActivatedAt:     null.TimeFrom(now),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tomb.RecoveredAt = null.TimeFrom(now)
	tomb.RecoveredBy = null.StringFrom(actor.ID)

	entry := newAuditEntry(req, ActionRecovered, "", StatusActivated, actor, rc.Reason, map[string]string{
		"retention_id": tomb.ID,
	})
	updated, err := svc.repo.RecoverRetention(ctx, tomb, req, entry)
	if err != nil {
		if errors.Is(err, ErrDuplicatePending) { // a successor link won the race
			return GuardianLinkRequest{}, ErrAlreadyRelinked
		}
		return GuardianLinkRequest{}, err
	}
	return updated, nil
}

func (svc *service) Get(ctx context.Context, schoolID, id string) (GuardianLinkRequest, error) {
	return svc.getFresh(ctx, schoolID, id)
}

func (svc *service) Pending(ctx context.Context, schoolID string) ([]GuardianLinkRequest, error) {
	return svc.repo.PendingRequests(ctx, schoolID)
}

func (svc *service) History(ctx context.Context, schoolID, id string) ([]AuditEntry, error) {
	entries, err := svc.repo.History(ctx, schoolID, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		// every request writes its initiated entry atomically with creation,
		// so an empty ledger means the id is unknown in this school
		return nil, ErrNotFound
	}
	return entries, nil
}

func (svc *service) Retention(ctx context.Context, schoolID, id string) (Retention, error) {
	return svc.repo.GetRetention(ctx, schoolID, id)
}

func (svc *service) Retentions(ctx context.Context, schoolID string) ([]Retention, error) {
	return svc.repo.QueryRetentions(ctx, schoolID)
}

func (svc *service) Capabilities(ctx context.Context, guardianID, studentID string) (Capabilities, error) {
	req, err := svc.repo.ActiveRequest(ctx, guardianID, studentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Capabilities{}, nil
		}
		return Capabilities{}, err
	}
	if !req.Active(nowFunc().UTC()) { // activated but past its expiry date
		return Capabilities{}, nil
	}
	return CapabilitiesFor(req.Tier), nil
}

func (svc *service) Can(ctx context.Context, guardianID, studentID string, cap Capability) (bool, error) {
	caps, err := svc.Capabilities(ctx, guardianID, studentID)
	if err != nil {
		return false, err
	}
	return caps.Allows(cap), nil
}

func (svc *service) RaiseIncident(ctx context.Context, actor Actor, ni NewIncident) (Incident, error) {
	if err := ni.Validate(); err != nil {
		return Incident{}, err
	}
	now := nowFunc().UTC()
	inc := Incident{
		SchoolID:                   ni.SchoolID,
		GuardianID:                 ni.GuardianID,
		StudentID:                  ni.StudentID,
		LinkRequestID:              null.NewString(ni.LinkRequestID, ni.LinkRequestID != ""),
		IncidentType:               ni.IncidentType,
		Severity:                   ni.Severity,
		Status:                     IncidentOpen,
		DiscoveredAt:               now,
		DiscoveredBy:               actor.ID,
		DiscoveredByRole:           actor.Role,
		Description:                ni.Description,
		DataAccessedDuringIncident: ni.DataAccessedDuringIncident,
		ParentNotified:             ni.ParentNotified,
		SchoolAdminNotified:        ni.SchoolAdminNotified,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	return svc.repo.CreateIncident(ctx, inc)
}

func (svc *service) ResolveIncident(ctx context.Context, actor Actor, schoolID, id string, ri ResolveIncident) (Incident, error) {
	if err := ri.Validate(); err != nil {
		return Incident{}, err
	}
	inc, err := svc.repo.GetIncident(ctx, schoolID, id)
	if err != nil {
		return Incident{}, err
	}
	if inc.Status == IncidentResolved {
		return Incident{}, core.NewValidationError(errors.New("incident is already resolved"))
	}

	now := nowFunc().UTC()
	inc.Status = IncidentResolved
	inc.ResolvedAt = null.TimeFrom(now)
	inc.ResolvedBy = null.StringFrom(actor.ID)
	inc.ResolutionNotes = null.StringFrom(ri.Notes)
	inc.RootCause = null.NewString(ri.RootCause, ri.RootCause != "")
	inc.PreventiveMeasures = null.NewString(ri.PreventiveMeasures, ri.PreventiveMeasures != "")
	inc.LinkRemoved = inc.LinkRemoved || ri.LinkRemoved
	inc.UpdatedAt = now
	return svc.repo.UpdateIncident(ctx, inc)
}

func (svc *service) Incidents(ctx context.Context, schoolID string) ([]Incident, error) {
	return svc.repo.QueryIncidents(ctx, schoolID)
}

// getFresh reads a request and lazily expires a confirmation whose window
// has elapsed; expiry is system-triggered, not a user action.
func (svc *service) getFresh(ctx context.Context, schoolID, id string) (GuardianLinkRequest, error) {
	req, err := svc.repo.GetRequest(ctx, schoolID, id)
	if err != nil {
		return GuardianLinkRequest{}, err
	}

	now := nowFunc().UTC()
	if !req.confirmationExpired(now) {
		return req, nil
	}

	req.Status = StatusExpired
	req.ConfirmationCode = null.String{}
	req.UpdatedAt = now
	entry := newAuditEntry(req, ActionExpired, StatusPendingConfirmation, StatusExpired, systemActor, "confirmation window elapsed", nil)
	updated, err := svc.repo.UpdateRequest(ctx, req, []AuditEntry{entry}, nil)
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) { // someone else moved it first
			return svc.repo.GetRequest(ctx, schoolID, id)
		}
		return GuardianLinkRequest{}, err
	}
	svc.logger.Info("expired confirmation for link request " + updated.ID)
	return updated, nil
}
