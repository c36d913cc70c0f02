package link

import (
	"github.com/go-playground/validator/v10"

	"github.com/mzazilink/backend/core"
)

var (
	relationshipTag  = "relationship"
	relationshipText = "invalid relationship type"

	tierTag  = "permissiontier"
	tierText = "invalid permission tier"

	durationTag  = "durationtype"
	durationText = "invalid duration type"

	severityTag  = "severity"
	severityText = "invalid severity"

	expiresAtTag  = "expiresat"
	expiresAtText = "an expiry date is required for temporary links"
)

func init() {
	_ = core.Validate.RegisterValidation(relationshipTag, relationshipValidation)
	core.RegisterCustomTranslation(relationshipTag, relationshipText)

	_ = core.Validate.RegisterValidation(tierTag, tierValidation)
	core.RegisterCustomTranslation(tierTag, tierText)

	_ = core.Validate.RegisterValidation(durationTag, durationValidation)
	core.RegisterCustomTranslation(durationTag, durationText)

	_ = core.Validate.RegisterValidation(severityTag, severityValidation)
	core.RegisterCustomTranslation(severityTag, severityText)

	core.Validate.RegisterStructValidation(newLinkStructValidation, NewLinkRequest{})
	core.RegisterCustomTranslation(expiresAtTag, expiresAtText)
}

func relationshipValidation(fl validator.FieldLevel) bool {
	rel := RelationshipType(fl.Field().String())
	for _, r := range AllRelationshipTypes {
		if rel == r {
			return true
		}
	}
	return false
}

func tierValidation(fl validator.FieldLevel) bool {
	return PermissionTier(fl.Field().String()).Rank() > 0
}

func durationValidation(fl validator.FieldLevel) bool {
	d := DurationType(fl.Field().String())
	for _, dt := range AllDurationTypes {
		if d == dt {
			return true
		}
	}
	return false
}

func severityValidation(fl validator.FieldLevel) bool {
	sev := IncidentSeverity(fl.Field().String())
	for _, s := range AllIncidentSeverities {
		if sev == s {
			return true
		}
	}
	return false
}

// newLinkStructValidation enforces that temporary links carry an expiry date.
func newLinkStructValidation(sl validator.StructLevel) {
	nr, ok := sl.Current().Interface().(NewLinkRequest)
	if !ok {
		return
	}
	if nr.Duration.Temporary() && !nr.ExpiresAt.Valid {
		sl.ReportError(nr.ExpiresAt, "expires_at", "ExpiresAt", expiresAtTag, "")
	}
}
