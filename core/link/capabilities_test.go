package link

import "testing"

func TestCapabilitiesFor(t *testing.T) {
	viewOnly := CapabilitiesFor(TierViewOnly)
	viewNotif := CapabilitiesFor(TierViewNotifications)
	full := CapabilitiesFor(TierFullAccess)

	if !viewOnly.CanViewAttendance || !viewOnly.CanViewLearningUpdates || !viewOnly.CanViewTimetables {
		t.Error("view_only must include attendance, learning updates and timetables")
	}
	if viewOnly.CanReceiveNotifications || viewOnly.CanViewFees {
		t.Error("view_only must not include notifications or fees")
	}
	if !viewNotif.CanReceiveNotifications || !viewNotif.CanViewApprovedInsights {
		t.Error("view_notifications must include notifications and approved insights")
	}
	if viewNotif.CanViewReports || viewNotif.CanRequestMeetings {
		t.Error("view_notifications must not include reports or meetings")
	}
	if !full.CanViewFees || !full.CanViewReports || !full.CanRequestMeetings {
		t.Error("full_access must include fees, reports and meetings")
	}

	if got := CapabilitiesFor("bogus"); got != (Capabilities{}) {
		t.Errorf("unknown tier capabilities = %+v; want none", got)
	}
}

// Each tier must unlock a superset of the one below it.
func TestCapabilitiesAdditive(t *testing.T) {
	caps := []Capability{
		CapViewAttendance, CapViewLearningUpdates, CapViewTimetables, CapViewApprovedInsights,
		CapReceiveNotifications, CapViewFees, CapViewReports, CapRequestMeetings,
	}
	for i := 1; i < len(AllPermissionTiers); i++ {
		lower := CapabilitiesFor(AllPermissionTiers[i-1])
		higher := CapabilitiesFor(AllPermissionTiers[i])
		for _, c := range caps {
			if lower.Allows(c) && !higher.Allows(c) {
				t.Errorf("%s allows %s but %s does not", AllPermissionTiers[i-1], c, AllPermissionTiers[i])
			}
		}
	}
}

func TestTierRank(t *testing.T) {
	if !(TierViewOnly.Rank() < TierViewNotifications.Rank() && TierViewNotifications.Rank() < TierFullAccess.Rank()) {
		t.Error("tier ranks must be strictly increasing")
	}
	if PermissionTier("bogus").Rank() != 0 {
		t.Error("unknown tier must rank zero")
	}
}
