package link

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// Retention is the tombstone of a revoked or unlinked relationship. It keeps
// a snapshot of what was deleted, stays recoverable until RetentionUntil and
// becomes eligible for physical purge after that if never recovered.
// Recovery annotates the tombstone; it never deletes it.
type Retention struct {
	ID            string `json:"id" db:"id"`
	SchoolID      string `json:"school_id" db:"school_id"`
	GuardianID    string `json:"guardian_id" db:"guardian_id"`
	StudentID     string `json:"student_id" db:"student_id"`
	LinkRequestID string `json:"link_request_id" db:"link_request_id"`

	DeletedAt      time.Time `json:"deleted_at" db:"deleted_at"` // UTC
	DeletedBy      string    `json:"deleted_by" db:"deleted_by"`
	DeletedByRole  string    `json:"deleted_by_role" db:"deleted_by_role"`
	DeletionReason string    `json:"deletion_reason" db:"deletion_reason"`

	// snapshot of the relationship at time of deletion
	Relationship RelationshipType `json:"relationship_type" db:"relationship_type"`
	Tier         PermissionTier   `json:"permission_tier" db:"permission_tier"`

	RetentionUntil time.Time   `json:"retention_until" db:"retention_until"`
	RecoveredAt    null.Time   `json:"recovered_at" db:"recovered_at"`
	RecoveredBy    null.String `json:"recovered_by" db:"recovered_by"`
}
