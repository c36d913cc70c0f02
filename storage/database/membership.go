package database

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/link"
)

type MembershipChecker struct {
	db *sqlx.DB
}

var _ link.MembershipChecker = (*MembershipChecker)(nil)

func NewMembershipChecker(db *sqlx.DB) *MembershipChecker {
	return &MembershipChecker{db: db}
}

func (mc *MembershipChecker) CheckMembership(ctx context.Context, schoolID, guardianID, studentID string) error {
	var counts struct {
		Guardians int `db:"guardians"`
		Students  int `db:"students"`
	}
	q := `SELECT
			(SELECT COUNT(*) FROM guardian WHERE id = $2 AND school_id = $1) AS guardians,
			(SELECT COUNT(*) FROM student WHERE id = $3 AND school_id = $1) AS students`
	if err := mc.db.GetContext(ctx, &counts, q, schoolID, guardianID, studentID); err != nil {
		return errors.Wrap(err, "checking school membership")
	}

	var fields []core.FieldError
	if counts.Guardians == 0 {
		fields = append(fields, core.FieldError{Field: "guardian_id", Error: "guardian does not belong to this school"})
	}
	if counts.Students == 0 {
		fields = append(fields, core.FieldError{Field: "student_id", Error: "student does not belong to this school"})
	}
	if len(fields) > 0 {
		return core.NewValidationError(link.ErrNotSameSchool, fields...)
	}
	return nil
}
