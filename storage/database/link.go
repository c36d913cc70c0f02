package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/mzazilink/backend/core/link"
)

const uniqueViolation = "23505"

const linkRequestColumns = `id, school_id, guardian_id, student_id, relationship_type, permission_tier,
	duration_type, expires_at, status, initiated_by, initiated_by_role, requires_parent_confirmation,
	confirmation_method, confirmation_code, confirmation_sent_at, confirmation_expires_at, confirmed_at,
	verification_notes, reviewed_by, reviewed_at, review_notes, rejection_reason, activated_at,
	revoked_at, revocation_reason, version, created_at, updated_at`

type LinkRepository struct {
	db *sqlx.DB
}

var _ link.Repository = (*LinkRepository)(nil)

func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func (repo *LinkRepository) CreateRequest(ctx context.Context, req link.GuardianLinkRequest, entries ...link.AuditEntry) (link.GuardianLinkRequest, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err = checkBlockingDuplicate(ctx, tx, req); err != nil {
		return link.GuardianLinkRequest{}, err
	}

	req.ID = uuid.NewString()
	if err = insertRequest(ctx, tx, req); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	if err = insertEntries(ctx, tx, req.ID, entries); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	if err = tx.Commit(); err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "committing link request")
	}
	return req, nil
}

func (repo *LinkRepository) GetRequest(ctx context.Context, schoolID, id string) (link.GuardianLinkRequest, error) {
	var req link.GuardianLinkRequest
	q := `SELECT ` + linkRequestColumns + ` FROM guardian_link_request WHERE id = $1 AND school_id = $2`
	if err := repo.db.GetContext(ctx, &req, q, id, schoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return link.GuardianLinkRequest{}, link.ErrNotFound
		}
		return link.GuardianLinkRequest{}, errors.Wrap(err, "getting link request")
	}
	return req, nil
}

func (repo *LinkRepository) UpdateRequest(ctx context.Context, req link.GuardianLinkRequest, entries []link.AuditEntry, tomb *link.Retention) (link.GuardianLinkRequest, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err = updateRequest(ctx, tx, req); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	if err = insertEntries(ctx, tx, req.ID, entries); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	if tomb != nil {
		t := *tomb
		t.ID = uuid.NewString()
		if err = insertRetention(ctx, tx, t); err != nil {
			return link.GuardianLinkRequest{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "committing link request update")
	}
	req.Version++
	return req, nil
}

func (repo *LinkRepository) ActivateRequest(ctx context.Context, req link.GuardianLinkRequest, entries []link.AuditEntry, prior *link.GuardianLinkRequest, priorEntries []link.AuditEntry) (link.GuardianLinkRequest, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err = updateRequest(ctx, tx, req); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	if err = insertEntries(ctx, tx, req.ID, entries); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	if prior != nil {
		if err = updateRequest(ctx, tx, *prior); err != nil {
			return link.GuardianLinkRequest{}, err
		}
		if err = insertEntries(ctx, tx, prior.ID, priorEntries); err != nil {
			return link.GuardianLinkRequest{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "committing link activation")
	}
	req.Version++
	return req, nil
}

func (repo *LinkRepository) ActiveRequest(ctx context.Context, guardianID, studentID string) (link.GuardianLinkRequest, error) {
	var req link.GuardianLinkRequest
	q := `SELECT ` + linkRequestColumns + ` FROM guardian_link_request
		WHERE guardian_id = $1 AND student_id = $2 AND status = $3`
	if err := repo.db.GetContext(ctx, &req, q, guardianID, studentID, link.StatusActivated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return link.GuardianLinkRequest{}, link.ErrNotFound
		}
		return link.GuardianLinkRequest{}, errors.Wrap(err, "getting active link")
	}
	return req, nil
}

func (repo *LinkRepository) PendingRequests(ctx context.Context, schoolID string) ([]link.GuardianLinkRequest, error) {
	reqs := make([]link.GuardianLinkRequest, 0)
	q := `SELECT ` + linkRequestColumns + ` FROM guardian_link_request
		WHERE school_id = $1 AND status IN ($2, $3) ORDER BY created_at`
	err := repo.db.SelectContext(ctx, &reqs, q, schoolID, link.StatusPendingReview, link.StatusPendingConfirmation)
	if err != nil {
		return nil, errors.Wrap(err, "querying pending link requests")
	}
	return reqs, nil
}

func (repo *LinkRepository) History(ctx context.Context, schoolID, linkRequestID string) ([]link.AuditEntry, error) {
	rows := make([]auditRow, 0)
	// seq orders entries by insertion; paired entries of a combined transition
	// share a timestamp, so created_at alone cannot break the tie
	q := `SELECT a.id, a.link_request_id, a.guardian_id, a.student_id, a.action, a.previous_status,
			a.new_status, a.performed_by, a.performed_by_role, a.reason, a.metadata, a.created_at
		FROM link_audit a
		JOIN guardian_link_request r ON r.id = a.link_request_id
		WHERE a.link_request_id = $1 AND r.school_id = $2
		ORDER BY a.seq DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, linkRequestID, schoolID); err != nil {
		return nil, errors.Wrap(err, "querying audit trail")
	}

	entries := make([]link.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry := row.AuditEntry
		if len(row.RawMetadata) > 0 {
			if err := json.Unmarshal(row.RawMetadata, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, "decoding audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (repo *LinkRepository) CreateIncident(ctx context.Context, inc link.Incident) (link.Incident, error) {
	inc.ID = uuid.NewString()
	q := `INSERT INTO link_incident (id, school_id, guardian_id, student_id, link_request_id,
			incident_type, severity, status, discovered_at, discovered_by, discovered_by_role,
			description, data_accessed, link_removed, parent_notified, school_admin_notified,
			created_at, updated_at)
		VALUES (:id, :school_id, :guardian_id, :student_id, :link_request_id,
			:incident_type, :severity, :status, :discovered_at, :discovered_by, :discovered_by_role,
			:description, :data_accessed, :link_removed, :parent_notified, :school_admin_notified,
			:created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, inc); err != nil {
		return link.Incident{}, errors.Wrap(err, "inserting incident")
	}
	return inc, nil
}

func (repo *LinkRepository) GetIncident(ctx context.Context, schoolID, id string) (link.Incident, error) {
	var inc link.Incident
	q := `SELECT * FROM link_incident WHERE id = $1 AND school_id = $2`
	if err := repo.db.GetContext(ctx, &inc, q, id, schoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return link.Incident{}, link.ErrIncidentNotFound
		}
		return link.Incident{}, errors.Wrap(err, "getting incident")
	}
	return inc, nil
}

func (repo *LinkRepository) UpdateIncident(ctx context.Context, inc link.Incident) (link.Incident, error) {
	q := `UPDATE link_incident SET
			status = :status,
			link_removed = :link_removed,
			parent_notified = :parent_notified,
			school_admin_notified = :school_admin_notified,
			resolved_at = :resolved_at,
			resolved_by = :resolved_by,
			resolution_notes = :resolution_notes,
			root_cause = :root_cause,
			preventive_measures = :preventive_measures,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, inc)
	if err != nil {
		return link.Incident{}, errors.Wrap(err, "updating incident")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return link.Incident{}, link.ErrIncidentNotFound
	}
	return inc, nil
}

func (repo *LinkRepository) QueryIncidents(ctx context.Context, schoolID string) ([]link.Incident, error) {
	incs := make([]link.Incident, 0)
	q := `SELECT * FROM link_incident WHERE school_id = $1 ORDER BY discovered_at DESC`
	if err := repo.db.SelectContext(ctx, &incs, q, schoolID); err != nil {
		return nil, errors.Wrap(err, "querying incidents")
	}
	return incs, nil
}

func (repo *LinkRepository) GetRetention(ctx context.Context, schoolID, id string) (link.Retention, error) {
	var tomb link.Retention
	q := `SELECT * FROM link_retention WHERE id = $1 AND school_id = $2`
	if err := repo.db.GetContext(ctx, &tomb, q, id, schoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return link.Retention{}, link.ErrRetentionNotFound
		}
		return link.Retention{}, errors.Wrap(err, "getting retention record")
	}
	return tomb, nil
}

func (repo *LinkRepository) QueryRetentions(ctx context.Context, schoolID string) ([]link.Retention, error) {
	tombs := make([]link.Retention, 0)
	q := `SELECT * FROM link_retention WHERE school_id = $1 ORDER BY deleted_at DESC`
	if err := repo.db.SelectContext(ctx, &tombs, q, schoolID); err != nil {
		return nil, errors.Wrap(err, "querying retention records")
	}
	return tombs, nil
}

func (repo *LinkRepository) RecoverRetention(ctx context.Context, tomb link.Retention, req link.GuardianLinkRequest, entries ...link.AuditEntry) (link.GuardianLinkRequest, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// the recovered_at IS NULL guard makes double recovery lose the race
	res, err := tx.ExecContext(ctx,
		`UPDATE link_retention SET recovered_at = $1, recovered_by = $2 WHERE id = $3 AND recovered_at IS NULL`,
		tomb.RecoveredAt, tomb.RecoveredBy, tomb.ID)
	if err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "recovering retention record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "recovering retention record")
	}
	if n == 0 {
		var exists bool
		if err = tx.GetContext(ctx, &exists, `SELECT true FROM link_retention WHERE id = $1`, tomb.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return link.GuardianLinkRequest{}, link.ErrRetentionNotFound
			}
			return link.GuardianLinkRequest{}, errors.Wrap(err, "checking retention record")
		}
		return link.GuardianLinkRequest{}, link.ErrAlreadyRelinked
	}

	if err = checkBlockingDuplicate(ctx, tx, req); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	req.ID = uuid.NewString()
	if err = insertRequest(ctx, tx, req); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	if err = insertEntries(ctx, tx, req.ID, entries); err != nil {
		return link.GuardianLinkRequest{}, err
	}
	if err = tx.Commit(); err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "committing recovery")
	}
	return req, nil
}

func (repo *LinkRepository) PurgeRetentions(ctx context.Context, before time.Time) (int64, error) {
	res, err := repo.db.ExecContext(ctx,
		`DELETE FROM link_retention WHERE recovered_at IS NULL AND retention_until < $1`, before)
	if err != nil {
		return 0, errors.Wrap(err, "purging retention records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "purging retention records")
	}
	return n, nil
}

type auditRow struct {
	link.AuditEntry
	RawMetadata []byte `db:"metadata"`
}

// checkBlockingDuplicate locks the pair's live rows and enforces the single
// in-flight rule: any non-terminal request blocks, except an activated link
// being upgraded to a strictly higher tier.
func checkBlockingDuplicate(ctx context.Context, tx *sqlx.Tx, req link.GuardianLinkRequest) error {
	rows := make([]link.GuardianLinkRequest, 0)
	q := `SELECT ` + linkRequestColumns + ` FROM guardian_link_request
		WHERE guardian_id = $1 AND student_id = $2 AND status NOT IN ($3, $4, $5)
		FOR UPDATE`
	err := tx.SelectContext(ctx, &rows, q, req.GuardianID, req.StudentID,
		link.StatusRejected, link.StatusExpired, link.StatusRevoked)
	if err != nil {
		return errors.Wrap(err, "checking for duplicate link requests")
	}
	for _, r := range rows {
		if r.Status == link.StatusActivated && req.Tier.Rank() > r.Tier.Rank() {
			continue
		}
		return link.ErrDuplicatePending
	}
	return nil
}

// updateRequest writes a request's mutable columns guarded by its version; a
// concurrent writer wins with ErrConcurrentModification.
func updateRequest(ctx context.Context, tx *sqlx.Tx, req link.GuardianLinkRequest) error {
	q := `UPDATE guardian_link_request SET
			status = :status,
			expires_at = :expires_at,
			confirmation_method = :confirmation_method,
			confirmation_code = :confirmation_code,
			confirmation_sent_at = :confirmation_sent_at,
			confirmation_expires_at = :confirmation_expires_at,
			confirmed_at = :confirmed_at,
			reviewed_by = :reviewed_by,
			reviewed_at = :reviewed_at,
			review_notes = :review_notes,
			rejection_reason = :rejection_reason,
			activated_at = :activated_at,
			revoked_at = :revoked_at,
			revocation_reason = :revocation_reason,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version`
	res, err := tx.NamedExecContext(ctx, q, req)
	if err != nil {
		return errors.Wrap(err, "updating link request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "updating link request")
	}
	if n == 0 {
		var exists bool
		if err = tx.GetContext(ctx, &exists, `SELECT true FROM guardian_link_request WHERE id = $1`, req.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return link.ErrNotFound
			}
			return errors.Wrap(err, "checking link request")
		}
		return link.ErrConcurrentModification
	}
	return nil
}

func insertRequest(ctx context.Context, tx *sqlx.Tx, req link.GuardianLinkRequest) error {
	q := `INSERT INTO guardian_link_request (` + linkRequestColumns + `)
		VALUES (:id, :school_id, :guardian_id, :student_id, :relationship_type, :permission_tier,
			:duration_type, :expires_at, :status, :initiated_by, :initiated_by_role, :requires_parent_confirmation,
			:confirmation_method, :confirmation_code, :confirmation_sent_at, :confirmation_expires_at, :confirmed_at,
			:verification_notes, :reviewed_by, :reviewed_at, :review_notes, :rejection_reason, :activated_at,
			:revoked_at, :revocation_reason, :version, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, q, req); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return link.ErrDuplicatePending
		}
		return errors.Wrap(err, "inserting link request")
	}
	return nil
}

func insertEntries(ctx context.Context, tx *sqlx.Tx, linkRequestID string, entries []link.AuditEntry) error {
	q := `INSERT INTO link_audit (id, link_request_id, guardian_id, student_id, action,
			previous_status, new_status, performed_by, performed_by_role, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, e := range entries {
		e.ID = uuid.NewString()
		if e.LinkRequestID == "" {
			e.LinkRequestID = linkRequestID
		}
		var meta null.JSON
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return errors.Wrap(err, "encoding audit metadata")
			}
			meta = null.JSONFrom(raw)
		}
		_, err := tx.ExecContext(ctx, q, e.ID, e.LinkRequestID, e.GuardianID, e.StudentID, e.Action,
			e.PreviousStatus, e.NewStatus, e.PerformedBy, e.PerformedByRole, e.Reason, meta, e.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "inserting audit entry")
		}
	}
	return nil
}

func insertRetention(ctx context.Context, tx *sqlx.Tx, tomb link.Retention) error {
	q := `INSERT INTO link_retention (id, school_id, guardian_id, student_id, link_request_id,
			deleted_at, deleted_by, deleted_by_role, deletion_reason, relationship_type, permission_tier,
			retention_until, recovered_at, recovered_by)
		VALUES (:id, :school_id, :guardian_id, :student_id, :link_request_id,
			:deleted_at, :deleted_by, :deleted_by_role, :deletion_reason, :relationship_type, :permission_tier,
			:retention_until, :recovered_at, :recovered_by)`
	if _, err := tx.NamedExecContext(ctx, q, tomb); err != nil {
		return errors.Wrap(err, "inserting retention record")
	}
	return nil
}
