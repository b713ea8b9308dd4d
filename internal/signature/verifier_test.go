package signature

import (
	"testing"

	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_ValidSignature(t *testing.T) {
	v := NewVerifier("test-secret")
	body := []byte(`{"event_id":"evt_1","status":"approved"}`)

	err := v.Verify(body, v.Sign(body))
	require.NoError(t, err)
}

func TestVerifier_WrongSecret(t *testing.T) {
	signer := NewVerifier("gateway-secret")
	verifier := NewVerifier("different-secret")
	body := []byte(`{"event_id":"evt_1"}`)

	err := verifier.Verify(body, signer.Sign(body))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifier_TamperedBody(t *testing.T) {
	v := NewVerifier("test-secret")
	body := []byte(`{"amount":1000}`)
	sig := v.Sign(body)

	err := v.Verify([]byte(`{"amount":9000}`), sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifier_ReserializedBodyFails(t *testing.T) {
	v := NewVerifier("test-secret")
	signed := []byte(`{"a": 1, "b": 2}`)
	reserialized := []byte(`{"a":1,"b":2}`)

	err := v.Verify(reserialized, v.Sign(signed))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifier_NonHexSignature(t *testing.T) {
	v := NewVerifier("test-secret")

	err := v.Verify([]byte(`{}`), "not-a-hex-digest")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifier_EmptySignature(t *testing.T) {
	v := NewVerifier("test-secret")

	err := v.Verify([]byte(`{}`), "")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}
