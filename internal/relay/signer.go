package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"warelay/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "x-signature"

// Sign returns the headers for a delivery of body. With an empty secret the
// request goes out unsigned.
func Sign(body, secret string) map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	if secret == "" {
		return headers
	}
	headers[SignatureHeader] = computeHMAC([]byte(body), secret)
	return headers
}

// SignRequest pairs body with its signed headers.
func SignRequest(body, secret string) domain.SignedRequest {
	return domain.SignedRequest{Body: body, Headers: Sign(body, secret)}
}

// Verify checks signature against body the way a receiving sink does.
func Verify(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	expected := computeHMAC(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func computeHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
