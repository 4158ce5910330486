package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMissingSignature means the signature header was absent or
	// malformed, so the request cannot be attributed to the provider.
	ErrMissingSignature = errors.New("billing: missing or malformed webhook signature header")
	// ErrInvalidSignature means the header parsed but the HMAC digest
	// did not match the payload.
	ErrInvalidSignature = errors.New("billing: webhook signature mismatch")
)

// VerifySignature checks a Paddle-style webhook signature header of the
// form "ts=<unix>;h1=<hex>" against the raw request body. The signed
// message is "<ts>.<body>" with the shared secret as HMAC-SHA256 key.
func VerifySignature(secret string, header string, body []byte) error {
	ts, gotMAC, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(want), []byte(strings.ToLower(gotMAC))) {
		return ErrInvalidSignature
	}
	return nil
}

// CombineSignatureHeaders folds a separate timestamp header into the
// signature header for senders that ship only the digest in
// Paddle-Signature and the timestamp in Paddle-Timestamp.
func CombineSignatureHeaders(signature, timestamp string) string {
	if signature == "" || timestamp == "" || strings.Contains(signature, "ts=") {
		return signature
	}
	return "ts=" + timestamp + ";" + signature
}

func parseSignatureHeader(header string) (ts, h1 string, err error) {
	if strings.TrimSpace(header) == "" {
		return "", "", ErrMissingSignature
	}
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "h1":
			h1 = v
		}
	}
	if ts == "" || h1 == "" {
		return "", "", ErrMissingSignature
	}
	return ts, h1, nil
}
