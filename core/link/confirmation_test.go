package link

import (
	"strings"
	"testing"
	"time"
)

func TestRequiresConfirmation(t *testing.T) {
	tests := []struct {
		name string
		role string
		rel  RelationshipType
		tier PermissionTier
		want bool
	}{
		{"guardian self-service full access", RoleGuardian, RelationPrimaryGuardian, TierFullAccess, false},
		{"admin grants full access", RoleSchoolAdmin, RelationPrimaryGuardian, TierFullAccess, true},
		{"teacher grants full access", RoleTeacher, RelationSecondaryGuardian, TierFullAccess, true},
		{"admin grants view only", RoleSchoolAdmin, RelationPrimaryGuardian, TierViewOnly, false},
		{"admin grants view notifications", RoleSchoolAdmin, RelationSecondaryGuardian, TierViewNotifications, false},
		{"informational contact never confirms", RoleSchoolAdmin, RelationInformationalContact, TierFullAccess, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RequiresConfirmation(tt.role, tt.rel, tt.tier); got != tt.want {
				t.Errorf("RequiresConfirmation() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateCode(6)
		if err != nil {
			t.Fatalf("generateCode() failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("len(code) = %d; want 6", len(code))
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q contains %q outside alphabet", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("generateCode() produced no variation")
	}
}

func TestValidateCode(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	if err := validateCode("ABC234", "ABC234", future, now); err != nil {
		t.Errorf("valid code rejected: %v", err)
	}
	if err := validateCode("ABC234", "XYZ789", future, now); err != ErrCodeInvalid {
		t.Errorf("wrong code: err = %v; want ErrCodeInvalid", err)
	}
	if err := validateCode("ABC234", "ABC234", past, now); err != ErrCodeExpired {
		t.Errorf("expired code: err = %v; want ErrCodeExpired", err)
	}
	// expiry wins over mismatch; an expired code reveals nothing
	if err := validateCode("WRONG1", "ABC234", past, now); err != ErrCodeExpired {
		t.Errorf("expired wrong code: err = %v; want ErrCodeExpired", err)
	}
}
