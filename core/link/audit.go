package link

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// Audit actions; one entry per transition, two for combined transitions
// (approve+activate, confirm+activate).
const (
	ActionInitiated  = "initiated"
	ActionApproved   = "approved"
	ActionConfirmed  = "confirmed"
	ActionActivated  = "activated"
	ActionRejected   = "rejected"
	ActionExpired    = "expired"
	ActionRevoked    = "revoked"
	ActionUnlinked   = "unlinked"
	ActionRecovered  = "recovered"
	ActionSuperseded = "superseded"
)

// AuditEntry is one line of the append-only ledger. Entries are never updated
// or deleted and outlive the request they describe.
type AuditEntry struct {
	ID              string            `json:"id" db:"id"`
	LinkRequestID   string            `json:"link_request_id" db:"link_request_id"`
	GuardianID      string            `json:"guardian_id" db:"guardian_id"`
	StudentID       string            `json:"student_id" db:"student_id"`
	Action          string            `json:"action" db:"action"`
	PreviousStatus  Status            `json:"previous_status,omitempty" db:"previous_status"`
	NewStatus       Status            `json:"new_status,omitempty" db:"new_status"`
	PerformedBy     string            `json:"performed_by" db:"performed_by"`
	PerformedByRole string            `json:"performed_by_role" db:"performed_by_role"`
	Reason          null.String       `json:"reason" db:"reason"`
	Metadata        map[string]string `json:"metadata,omitempty" db:"-"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"` // UTC
}

func newAuditEntry(req GuardianLinkRequest, action string, prev, next Status, actor Actor, reason string, meta map[string]string) AuditEntry {
	entry := AuditEntry{
		LinkRequestID:   req.ID,
		GuardianID:      req.GuardianID,
		StudentID:       req.StudentID,
		Action:          action,
		PreviousStatus:  prev,
		NewStatus:       next,
		PerformedBy:     actor.ID,
		PerformedByRole: actor.Role,
		Metadata:        meta,
		CreatedAt:       nowFunc().UTC(),
	}
	if reason != "" {
		entry.Reason = null.StringFrom(reason)
	}
	return entry
}
