package outbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const (
	HeaderEventID   = "X-Event-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// Sign computes the hex HMAC-SHA256 of "{timestamp_ms}.{event_id}.{body}".
func Sign(secret string, timestampMs int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampMs, 10)))
	mac.Write([]byte("."))
	mac.Write([]byte(eventID))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify is the receiver side of Sign, compared in constant time.
func Verify(secret string, timestampMs int64, eventID string, body []byte, signature string) bool {
	expected := Sign(secret, timestampMs, eventID, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
