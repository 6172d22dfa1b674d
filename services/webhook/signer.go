package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const SignatureHeader = "X-Signature"

// Sign computes the signature header value for a payload: the hex HMAC-SHA256
// of the body under the subscription's signing secret, prefixed with the
// algorithm name.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the payload in
// constant time. Receivers use this; the dispatcher only signs.
func VerifySignature(secret string, payload []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(header))
}
