package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashAthleteID derives the opaque athlete identifier stored in place of
// the raw third-party id. One-way, salted, truncated to 16 hex chars.
func HashAthleteID(salt string, athleteID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", salt, athleteID)))
	return hex.EncodeToString(sum[:])[:16]
}

// AgeBucket maps an exact age onto the anonymized bucket persisted with
// training snapshots. Zero or negative ages yield an empty bucket.
func AgeBucket(age int) string {
	switch {
	case age <= 0:
		return ""
	case age < 18:
		return "under-18"
	case age <= 24:
		return "18-24"
	case age <= 34:
		return "25-34"
	case age <= 44:
		return "35-44"
	case age <= 54:
		return "45-54"
	case age <= 64:
		return "55-64"
	default:
		return "65+"
	}
}
