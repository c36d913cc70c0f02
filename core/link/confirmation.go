package link

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

var nowFunc = time.Now // mockable

// codeAlphabet avoids 0/O and 1/I; codes are read to parents over the phone.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RequiresConfirmation decides whether a request needs a parent-side
// confirmation code before it can activate:
//   - informational contacts never do;
//   - full access initiated by anyone other than the guardian themself does.
func RequiresConfirmation(initiatedByRole string, rel RelationshipType, tier PermissionTier) bool {
	if rel == RelationInformationalContact {
		return false
	}
	if tier == TierFullAccess && initiatedByRole != RoleGuardian {
		return true
	}
	return false
}

// generateCode returns a short random confirmation code of length n.
func generateCode(n int) (string, error) {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "generating confirmation code")
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// validateCode checks a submitted code against the stored one.
// The comparison is constant-time so response timing leaks nothing.
func validateCode(submitted, stored string, expiresAt, now time.Time) error {
	if now.After(expiresAt) {
		return ErrCodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 0 {
		return ErrCodeInvalid
	}
	return nil
}
