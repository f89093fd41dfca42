package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Verify reports whether signature is the hex HMAC-SHA256 of body under
// secret, with or without a "sha256=" prefix.
//
// An empty secret disables verification and always succeeds. That is an
// explicit weakening for sources without a shared secret; configured
// sources fail closed on a missing or malformed signature.
func Verify(body []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(signature), signaturePrefix) {
		signature = signature[len(signaturePrefix):]
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	return hmac.Equal(provided, digest(body, secret))
}

// Sign returns the "sha256=<hex>" signature of body.
func Sign(body []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(digest(body, secret))
}

func digest(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
