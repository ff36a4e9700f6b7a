package tree

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"conclave/internal/domain"
)

// CanonicalGroupID maps a caller-suggested identifier to the fixed form. A
// suggestion that already parses as a full hex identifier is adopted
// verbatim; anything else, including the empty string, is hashed together
// with fresh salt, so repeated creations under the same suggestion still
// yield distinct groups.
func CanonicalGroupID(suggested string) (domain.GroupID, error) {
	if id, err := domain.ParseGroupID(suggested); err == nil {
		return id, nil
	}

	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return domain.GroupID{}, fmt.Errorf("group id salt: %w", err)
	}
	sum := sha256.Sum256(append([]byte(suggested), salt[:]...))

	var id domain.GroupID
	copy(id[:], sum[:])
	if id.IsZero() {
		// The zero identifier stays reserved.
		id[0] = 1
	}
	return id, nil
}
