package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"log"
	"strconv"
	"time"
)

// maxTimestampSkew bounds how far a request timestamp may drift from our
// clock, in either direction. Replays of captured requests fall outside it.
const maxTimestampSkew = 300 // seconds

// VerifySignature validates a Slack request signature.
// See: https://api.slack.com/authentication/verifying-requests-from-slack
//
// It never returns an error: any missing input, unparseable timestamp, stale
// or future timestamp, or signature mismatch simply yields false. The URL
// verification handshake is exempt from this check and never reaches it.
func VerifySignature(body []byte, timestamp, signature, signingSecret string) bool {
	if signingSecret == "" || timestamp == "" || signature == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		log.Printf("invalid request timestamp: %q", timestamp)
		return false
	}

	now := time.Now().Unix()
	skew := now - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		log.Printf("request timestamp outside allowed window: %d (current: %d)", ts, now)
		return false
	}

	// Signature base string: v0:<timestamp>:<body>
	baseString := fmt.Sprintf("v0:%s:%s", timestamp, string(body))

	h := hmac.New(sha256.New, []byte(signingSecret))
	h.Write([]byte(baseString))
	expected := "v0=" + fmt.Sprintf("%x", h.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(expected), []byte(signature))
}
