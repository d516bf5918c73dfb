package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how far a signed timestamp may drift from the
// server clock before the event is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// VerifySignature checks a gateway signature header of the form
// "t=<unix>,v1=<hex hmac>" where the HMAC-SHA256 is computed with the
// webhook secret over "<unix>.<payload>". A header may carry several v1
// entries after secret rotation; any one matching is sufficient.
func VerifySignature(header string, payload []byte, secret string, tolerance time.Duration, now time.Time) error {
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "v1="):
			candidates = append(candidates, strings.TrimPrefix(part, "v1="))
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return ErrBadSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	signedAt := time.Unix(unix, 0)
	if drift := now.Sub(signedAt); drift > tolerance || drift < -tolerance {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrBadSignature
}

// SignPayload produces a signature header for the given payload. Used by
// tests and by local tooling that replays events.
func SignPayload(payload []byte, secret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
