package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the hex-encoded HMAC-SHA256 of the colon-joined parts.
// This is the string-to-sign layout the broadcast gateway verifies for channel
// subscriptions: "<socket_id>:<channel>[:<channel_data>]".
func Sign(secret []byte, parts ...string) string {
	return SignString(secret, strings.Join(parts, ":"))
}

// SignString returns the hex-encoded HMAC-SHA256 of payload.
func SignString(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares sig against the expected signature in constant time.
func Verify(secret []byte, sig string, parts ...string) bool {
	expected := Sign(secret, parts...)
	return hmac.Equal([]byte(expected), []byte(sig))
}
