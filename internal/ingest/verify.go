package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// signaturePrefix is the scheme tag the provider puts in front of the
// hex digest in X-Hub-Signature-256.
const signaturePrefix = "sha256="

// Signature computes the provider's webhook signature for a raw body.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook body against its X-Hub-Signature-256
// header in constant time. An empty secret disables verification; this is
// for local development only.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	return hmac.Equal([]byte(Signature(secret, body)), []byte(header))
}
