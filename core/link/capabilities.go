package link

// Capability names a single data category a guardian may be allowed to see.
type Capability string

const (
	CapViewAttendance       Capability = "view_attendance"
	CapViewLearningUpdates  Capability = "view_learning_updates"
	CapViewTimetables       Capability = "view_timetables"
	CapViewApprovedInsights Capability = "view_approved_insights"
	CapReceiveNotifications Capability = "receive_notifications"
	CapViewFees             Capability = "view_fees"
	CapViewReports          Capability = "view_reports"
	CapRequestMeetings      Capability = "request_meetings"
)

// Capabilities is the fixed set of flags a permission tier unlocks.
type Capabilities struct {
	CanViewAttendance       bool `json:"can_view_attendance"`
	CanViewLearningUpdates  bool `json:"can_view_learning_updates"`
	CanViewTimetables       bool `json:"can_view_timetables"`
	CanViewApprovedInsights bool `json:"can_view_approved_insights"`
	CanReceiveNotifications bool `json:"can_receive_notifications"`
	CanViewFees             bool `json:"can_view_fees"`
	CanViewReports          bool `json:"can_view_reports"`
	CanRequestMeetings      bool `json:"can_request_meetings"`
}

// tierCapabilities is computed once; tiers are strictly additive:
// full_access ⊇ view_notifications ⊇ view_only.
var tierCapabilities = map[PermissionTier]Capabilities{
	TierViewOnly: {
		CanViewAttendance:      true,
		CanViewLearningUpdates: true,
		CanViewTimetables:      true,
	},
	TierViewNotifications: {
		CanViewAttendance:       true,
		CanViewLearningUpdates:  true,
		CanViewTimetables:       true,
		CanViewApprovedInsights: true,
		CanReceiveNotifications: true,
	},
	TierFullAccess: {
		CanViewAttendance:       true,
		CanViewLearningUpdates:  true,
		CanViewTimetables:       true,
		CanViewApprovedInsights: true,
		CanReceiveNotifications: true,
		CanViewFees:             true,
		CanViewReports:          true,
		CanRequestMeetings:      true,
	},
}

// CapabilitiesFor returns the capability flags unlocked by a tier.
// Unknown tiers get nothing.
func CapabilitiesFor(tier PermissionTier) Capabilities {
	return tierCapabilities[tier]
}

// Allows reports whether the set includes the named capability.
func (c Capabilities) Allows(cap Capability) bool {
	switch cap {
	case CapViewAttendance:
		return c.CanViewAttendance
	case CapViewLearningUpdates:
		return c.CanViewLearningUpdates
	case CapViewTimetables:
		return c.CanViewTimetables
	case CapViewApprovedInsights:
		return c.CanViewApprovedInsights
	case CapReceiveNotifications:
		return c.CanReceiveNotifications
	case CapViewFees:
		return c.CanViewFees
	case CapViewReports:
		return c.CanViewReports
	case CapRequestMeetings:
		return c.CanRequestMeetings
	}
	return false
}
