package inmemdb

import (
	"context"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/link"
)

type MembershipChecker struct {
	db *DB
}

var _ link.MembershipChecker = (*MembershipChecker)(nil)

func NewMembershipChecker(db *DB) *MembershipChecker {
	return &MembershipChecker{db: db}
}

func (mc *MembershipChecker) AddGuardian(schoolID, guardianID string) {
	mc.db.mu.Lock()
	defer mc.db.mu.Unlock()
	mc.db.guardians[guardianID] = schoolID
}

func (mc *MembershipChecker) AddStudent(schoolID, studentID string) {
	mc.db.mu.Lock()
	defer mc.db.mu.Unlock()
	mc.db.students[studentID] = schoolID
}

func (mc *MembershipChecker) CheckMembership(ctx context.Context, schoolID, guardianID, studentID string) error {
	mc.db.mu.RLock()
	defer mc.db.mu.RUnlock()

	var fields []core.FieldError
	if mc.db.guardians[guardianID] != schoolID {
		fields = append(fields, core.FieldError{Field: "guardian_id", Error: "guardian does not belong to this school"})
	}
	if mc.db.students[studentID] != schoolID {
		fields = append(fields, core.FieldError{Field: "student_id", Error: "student does not belong to this school"})
	}
	if len(fields) > 0 {
		return core.NewValidationError(link.ErrNotSameSchool, fields...)
	}
	return nil
}
