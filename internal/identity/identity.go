package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// couple IDs are prefixed so they are distinguishable from raw user IDs in
// logs and foreign keys.
const coupleIDPrefix = "cpl_"

// DeriveCoupleID derives the stable couple identifier for a pair of user
// IDs. The two IDs are sorted lexicographically before hashing, so both
// devices compute the identical value regardless of which side of the
// pairing they represent.
func DeriveCoupleID(userIDA, userIDB string) (string, error) {
	if userIDA == "" || userIDB == "" {
		return "", fmt.Errorf("user id must not be empty")
	}
	if userIDA == userIDB {
		return "", fmt.Errorf("a couple cannot consist of one user twice")
	}

	a, b := SortPair(userIDA, userIDB)
	sum := sha256.Sum256([]byte(a + ":" + b))
	return coupleIDPrefix + hex.EncodeToString(sum[:16]), nil
}

// SortPair returns the two user IDs in lexicographic order.
func SortPair(userIDA, userIDB string) (string, string) {
	if userIDA > userIDB {
		return userIDB, userIDA
	}
	return userIDA, userIDB
}
