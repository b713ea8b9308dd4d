package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/sakashimaa/payment-recon/internal/domain"
)

// Verifier checks gateway webhook signatures. The gateway signs the raw
// request body with HMAC-SHA256 and sends the hex digest in a header.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify recomputes the digest over the exact raw bytes received. The body
// must not be re-serialized before verification: key order and whitespace
// are part of the signed payload.
func (v *Verifier) Verify(body []byte, signature string) error {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	received, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	if !hmac.Equal(expected, received) {
		return domain.ErrInvalidSignature
	}

	return nil
}

// Sign produces the hex digest for a body. Used by tests and by the
// sandbox gateway simulator.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
