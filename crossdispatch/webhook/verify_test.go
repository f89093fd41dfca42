package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var body = []byte(`{"type":"order.created","id":"order-1"}`)

const secret = "whsec_test"

func independentDigest(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignMatchesIndependentDigest(t *testing.T) {
	assert.Equal(t, "sha256="+independentDigest(body, secret), Sign(body, secret))
}

func TestVerifyRoundTrip(t *testing.T) {
	assert.True(t, Verify(body, Sign(body, secret), secret))
	assert.True(t, Verify(body, independentDigest(body, secret), secret), "bare hex")
	assert.True(t, Verify(body, "SHA256="+independentDigest(body, secret), secret), "case-insensitive prefix")
	assert.True(t, Verify(body, "  "+Sign(body, secret)+" ", secret), "surrounding whitespace")
}

func TestVerifyRejectsAlteredBody(t *testing.T) {
	altered := []byte(strings.Replace(string(body), "order-1", "order-2", 1))

	assert.False(t, Verify(altered, Sign(body, secret), secret))
}

func TestVerifyRejectsAlteredSignature(t *testing.T) {
	sig := []byte(independentDigest(body, secret))
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}

	assert.False(t, Verify(body, string(sig), secret))
	assert.False(t, Verify(body, Sign(body, "other-secret"), secret))
	assert.False(t, Verify(body, "sha256=not-hex", secret))
	assert.False(t, Verify(body, independentDigest(body, secret)[:10], secret), "truncated")
}

func TestVerifyFailsClosedWithoutHeader(t *testing.T) {
	assert.False(t, Verify(body, "", secret))
	assert.False(t, Verify(body, "   ", secret))
}

func TestVerifySkippedWithoutSecret(t *testing.T) {
	assert.True(t, Verify(body, "", ""))
	assert.True(t, Verify(body, "garbage", ""))
}
