package bookings

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// ActionSigner issues and verifies magic-link tokens for unauthenticated
// confirm/reject actions delivered by email.
type ActionSigner struct {
	secret []byte
}

// NewActionSigner creates a signer over the server secret.
func NewActionSigner(secret string) *ActionSigner {
	return &ActionSigner{secret: []byte(secret)}
}

// Sign returns base64url(HMAC-SHA256(secret, "{bookingID}:{action}")).
func (s *ActionSigner) Sign(bookingID uuid.UUID, action string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s", bookingID, action)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a presented token in constant time.
func (s *ActionSigner) Verify(bookingID uuid.UUID, action, token string) bool {
	presented, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s", bookingID, action)
	return hmac.Equal(presented, mac.Sum(nil))
}
