package verifier

import (
	"crypto/subtle"

	"github.com/tjfontaine/voicegate/internal/domain"
)

// MatchApplication compares the request's declared application id against the
// configured one. Identifiers are platform-issued opaque tokens, so the
// comparison is byte-exact with no normalization; constant-time to avoid
// leaking prefix length through timing.
func MatchApplication(requestAppID, expectedAppID string) error {
	if subtle.ConstantTimeCompare([]byte(requestAppID), []byte(expectedAppID)) != 1 {
		return domain.ErrApplicationMismatch("request application id does not match the configured application")
	}
	return nil
}
