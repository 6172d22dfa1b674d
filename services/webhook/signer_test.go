package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	signature := Sign("whsec_test", []byte(`{"type":"message.created"}`))

	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, signature)
	// Deterministic for the same secret and payload.
	assert.Equal(t, signature, Sign("whsec_test", []byte(`{"type":"message.created"}`)))
	// Different secret or payload changes the signature.
	assert.NotEqual(t, signature, Sign("whsec_other", []byte(`{"type":"message.created"}`)))
	assert.NotEqual(t, signature, Sign("whsec_test", []byte(`{"type":"message.updated"}`)))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"folder.updated"}`)
	signature := Sign("secret", payload)

	assert.True(t, VerifySignature("secret", payload, signature))
	assert.False(t, VerifySignature("wrong", payload, signature))
	assert.False(t, VerifySignature("secret", []byte(`tampered`), signature))
	assert.False(t, VerifySignature("secret", payload, "sha256=deadbeef"))
}
