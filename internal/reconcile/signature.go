package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNoSecret is returned when no webhook secret is configured. A verifier
// without a secret refuses everything rather than letting unsigned events
// mutate order state.
var ErrNoSecret = errors.New("webhook secret not configured")

// ErrBadSignature rejects a payload whose signature does not match.
var ErrBadSignature = errors.New("webhook signature mismatch")

// Verifier authenticates broker webhook payloads with HMAC-SHA256 over the
// raw request body.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the hex signature for a payload. Used by the simulator and
// tests to produce valid deliveries.
func (v *Verifier) Sign(body []byte) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the signature against the raw body in constant time.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return ErrNoSecret
	}
	want, err := v.Sign(body)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
