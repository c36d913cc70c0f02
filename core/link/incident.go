package link

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/mzazilink/backend/core"
)

type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
)

type IncidentSeverity string

const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

var AllIncidentSeverities = []IncidentSeverity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Incident records a suspected or confirmed wrong/abused guardian-student
// link. Incidents are compliance records: resolved, never hard-deleted.
type Incident struct {
	ID            string      `json:"id" db:"id"`
	SchoolID      string      `json:"school_id" db:"school_id"`
	GuardianID    string      `json:"guardian_id" db:"guardian_id"`
	StudentID     string      `json:"student_id" db:"student_id"`
	LinkRequestID null.String `json:"link_request_id" db:"link_request_id"`

	IncidentType string           `json:"incident_type" db:"incident_type"`
	Severity     IncidentSeverity `json:"severity" db:"severity"`
	Status       IncidentStatus   `json:"status" db:"status"`

	DiscoveredAt     time.Time `json:"discovered_at" db:"discovered_at"` // UTC
	DiscoveredBy     string    `json:"discovered_by" db:"discovered_by"`
	DiscoveredByRole string    `json:"discovered_by_role" db:"discovered_by_role"`
	Description      string    `json:"description" db:"description"`

	DataAccessedDuringIncident bool `json:"data_accessed_during_incident" db:"data_accessed"`
	LinkRemoved                bool `json:"link_removed" db:"link_removed"`
	ParentNotified             bool `json:"parent_notified" db:"parent_notified"`
	SchoolAdminNotified        bool `json:"school_admin_notified" db:"school_admin_notified"`

	ResolvedAt         null.Time   `json:"resolved_at" db:"resolved_at"`
	ResolvedBy         null.String `json:"resolved_by" db:"resolved_by"`
	ResolutionNotes    null.String `json:"resolution_notes" db:"resolution_notes"`
	RootCause          null.String `json:"root_cause" db:"root_cause"`
	PreventiveMeasures null.String `json:"preventive_measures" db:"preventive_measures"`

	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // UTC
}

// NewIncident contains information needed to raise an incident.
type NewIncident struct {
	SchoolID      string           `json:"school_id" validate:"required"`
	GuardianID    string           `json:"guardian_id" validate:"required"`
	StudentID     string           `json:"student_id" validate:"required"`
	LinkRequestID string           `json:"link_request_id"`
	IncidentType  string           `json:"incident_type" validate:"required"`
	Severity      IncidentSeverity `json:"severity" validate:"required,severity"`
	Description   string           `json:"description" validate:"required"`

	DataAccessedDuringIncident bool `json:"data_accessed_during_incident"`
	ParentNotified             bool `json:"parent_notified"`
	SchoolAdminNotified        bool `json:"school_admin_notified"`
}

func (ni *NewIncident) Validate() error {
	ni.IncidentType = core.CleanString(ni.IncidentType, true /* lower */)
	ni.Description = core.CleanString(ni.Description)
	return core.ValidateStruct(ni)
}

// ResolveIncident closes an incident; the originating audit entries stay untouched.
type ResolveIncident struct {
	Notes              string `json:"resolution_notes" validate:"required"`
	RootCause          string `json:"root_cause"`
	PreventiveMeasures string `json:"preventive_measures"`
	LinkRemoved        bool   `json:"link_removed"`
}

func (ri *ResolveIncident) Validate() error {
	ri.Notes = core.CleanString(ri.Notes)
	ri.RootCause = core.CleanString(ri.RootCause)
	ri.PreventiveMeasures = core.CleanString(ri.PreventiveMeasures)
	return core.ValidateStruct(ri)
}
