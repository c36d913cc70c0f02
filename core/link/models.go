package link

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/mzazilink/backend/core"
)

// Statuses a GuardianLinkRequest moves through. Rejected, expired and revoked
// are terminal; a new initiate starts a fresh request.
type Status string

const (
	StatusPendingReview       Status = "pending_review"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusActivated           Status = "activated"
	StatusRejected            Status = "rejected"
	StatusExpired             Status = "expired"
	StatusRevoked             Status = "revoked"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Event is a transition attempt on a link request.
type Event string

const (
	EventInitiate Event = "initiate"
	EventApprove  Event = "approve"
	EventConfirm  Event = "confirm"
	EventReject   Event = "reject"
	EventExpire   Event = "expire"
	EventRevoke   Event = "revoke"
	EventUnlink   Event = "unlink"
	EventRecover  Event = "recover"
)

type RelationshipType string

const (
	RelationPrimaryGuardian      RelationshipType = "primary_guardian"
	RelationSecondaryGuardian    RelationshipType = "secondary_guardian"
	RelationInformationalContact RelationshipType = "informational_contact"
)

var AllRelationshipTypes = []RelationshipType{
	RelationPrimaryGuardian,
	RelationSecondaryGuardian,
	RelationInformationalContact,
}

type PermissionTier string

const (
	TierViewOnly          PermissionTier = "view_only"
	TierViewNotifications PermissionTier = "view_notifications"
	TierFullAccess        PermissionTier = "full_access"
)

var AllPermissionTiers = []PermissionTier{TierViewOnly, TierViewNotifications, TierFullAccess}

var tierRanks = map[PermissionTier]int{
	TierViewOnly:          1,
	TierViewNotifications: 2,
	TierFullAccess:        3,
}

// Rank orders tiers by breadth; a higher rank unlocks a superset of capabilities.
func (t PermissionTier) Rank() int {
	return tierRanks[t]
}

type DurationType string

const (
	DurationPermanent       DurationType = "permanent"
	DurationTemporaryTerm   DurationType = "temporary_term"
	DurationTemporaryYear   DurationType = "temporary_year"
	DurationTemporaryCustom DurationType = "temporary_custom"
)

var AllDurationTypes = []DurationType{
	DurationPermanent,
	DurationTemporaryTerm,
	DurationTemporaryYear,
	DurationTemporaryCustom,
}

func (d DurationType) Temporary() bool {
	return d != DurationPermanent && d != ""
}

// Actor identifies who performs an operation; resolved by the caller
// (JWT claims on the API, "system" for lazy expiry).
type Actor struct {
	ID   string
	Role string
}

// Actor roles. Platform owners get no bypass here: their requests go through
// the same state machine as everyone else's.
const (
	RoleSchoolAdmin = "school_admin"
	RoleTeacher     = "teacher"
	RoleGuardian    = "guardian"
	RoleSystem      = "system"
)

var systemActor = Actor{ID: "system", Role: RoleSystem}

// GuardianLinkRequest is the root record of a guardian-student authorization
// and its full lifecycle.
type GuardianLinkRequest struct {
	ID         string `json:"id" db:"id"`
	SchoolID   string `json:"school_id" db:"school_id"`
	GuardianID string `json:"guardian_id" db:"guardian_id"`
	StudentID  string `json:"student_id" db:"student_id"`

	Relationship RelationshipType `json:"relationship_type" db:"relationship_type"`
	Tier         PermissionTier   `json:"permission_tier" db:"permission_tier"`
	Duration     DurationType     `json:"duration_type" db:"duration_type"`
	ExpiresAt    null.Time        `json:"expires_at" db:"expires_at"`

	Status          Status `json:"status" db:"status"`
	InitiatedBy     string `json:"initiated_by" db:"initiated_by"`
	InitiatedByRole string `json:"initiated_by_role" db:"initiated_by_role"`

	RequiresParentConfirmation bool        `json:"requires_parent_confirmation" db:"requires_parent_confirmation"`
	ConfirmationMethod         null.String `json:"confirmation_method" db:"confirmation_method"`
	ConfirmationCode           null.String `json:"-" db:"confirmation_code"` // single-use, cleared on success
	ConfirmationSentAt         null.Time   `json:"confirmation_sent_at" db:"confirmation_sent_at"`
	ConfirmationExpiresAt      null.Time   `json:"confirmation_expires_at" db:"confirmation_expires_at"`
	ConfirmedAt                null.Time   `json:"confirmed_at" db:"confirmed_at"`

	VerificationNotes null.String `json:"verification_notes" db:"verification_notes"`

	ReviewedBy  null.String `json:"reviewed_by" db:"reviewed_by"`
	ReviewedAt  null.Time   `json:"reviewed_at" db:"reviewed_at"`
	ReviewNotes null.String `json:"review_notes" db:"review_notes"`

	RejectionReason  null.String `json:"rejection_reason" db:"rejection_reason"`
	ActivatedAt      null.Time   `json:"activated_at" db:"activated_at"`
	RevokedAt        null.Time   `json:"revoked_at" db:"revoked_at"`
	RevocationReason null.String `json:"revocation_reason" db:"revocation_reason"`

	Version   int       `json:"-" db:"version"` // optimistic concurrency guard
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // UTC
}

// Active reports whether the link grants access at `now`:
// activated and not past its expiry date.
func (r *GuardianLinkRequest) Active(now time.Time) bool {
	if r.Status != StatusActivated {
		return false
	}
	if r.ExpiresAt.Valid && !now.Before(r.ExpiresAt.Time) {
		return false
	}
	return true
}

// confirmationExpired reports whether the confirmation window has closed.
func (r *GuardianLinkRequest) confirmationExpired(now time.Time) bool {
	return r.Status == StatusPendingConfirmation &&
		r.ConfirmationExpiresAt.Valid &&
		now.After(r.ConfirmationExpiresAt.Time)
}

// NewLinkRequest contains information needed to initiate a link request.
type NewLinkRequest struct {
	SchoolID           string           `json:"school_id" validate:"required"`
	GuardianID         string           `json:"guardian_id" validate:"required"`
	StudentID          string           `json:"student_id" validate:"required"`
	Relationship       RelationshipType `json:"relationship_type" validate:"required,relationship"`
	Tier               PermissionTier   `json:"permission_tier" validate:"required,permissiontier"`
	Duration           DurationType     `json:"duration_type" validate:"required,durationtype"`
	ExpiresAt          null.Time        `json:"expires_at"`
	ConfirmationMethod string           `json:"confirmation_method"`
	VerificationNotes  string           `json:"verification_notes"`
}

func (nr *NewLinkRequest) Validate() error {
	nr.SchoolID = core.CleanString(nr.SchoolID)
	nr.GuardianID = core.CleanString(nr.GuardianID)
	nr.StudentID = core.CleanString(nr.StudentID)
	nr.ConfirmationMethod = core.CleanString(nr.ConfirmationMethod)
	nr.VerificationNotes = core.CleanString(nr.VerificationNotes)
	return core.ValidateStruct(nr)
}

// ReviewLink carries the admin review of a pending request.
type ReviewLink struct {
	Notes string `json:"review_notes"`
}

func (rl *ReviewLink) Validate() error {
	rl.Notes = core.CleanString(rl.Notes)
	return core.ValidateStruct(rl)
}

// ConfirmLink carries the guardian-submitted confirmation code.
type ConfirmLink struct {
	Code string `json:"code" validate:"required"`
}

func (cl *ConfirmLink) Validate() error {
	cl.Code = core.CleanString(cl.Code)
	return core.ValidateStruct(cl)
}

// RejectLink requires a human-readable reason; it is shown to the initiator.
type RejectLink struct {
	Reason string `json:"reason" validate:"required"`
}

func (rj *RejectLink) Validate() error {
	rj.Reason = core.CleanString(rj.Reason)
	return core.ValidateStruct(rj)
}

// RevokeLink requires a human-readable reason; it is kept on the tombstone.
type RevokeLink struct {
	Reason string `json:"reason" validate:"required"`
}

func (rv *RevokeLink) Validate() error {
	rv.Reason = core.CleanString(rv.Reason)
	return core.ValidateStruct(rv)
}

// UnlinkLink is the softer revocation used to correct mislinks; the reason
// code distinguishes it from a guardian-driven revoke on the tombstone.
type UnlinkLink struct {
	ReasonCode string `json:"reason_code" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

func (ul *UnlinkLink) Validate() error {
	ul.ReasonCode = core.CleanString(ul.ReasonCode, true /* lower */)
	ul.Reason = core.CleanString(ul.Reason)
	return core.ValidateStruct(ul)
}

// RecoverLink re-creates a link from its retention tombstone.
type RecoverLink struct {
	Reason string `json:"reason" validate:"required"`
}

func (rc *RecoverLink) Validate() error {
	rc.Reason = core.CleanString(rc.Reason)
	return core.ValidateStruct(rc)
}
