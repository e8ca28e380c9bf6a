// Package scram implements RFC 5802 SCRAM-SHA-256 client and server
// transactions for PostgreSQL SASL authentication, with channel
// binding advertised as unsupported (gs2-cbind-flag = 'n') per
// spec.md §4.4.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
)

// Mechanism is the SASL mechanism name this package speaks.
const Mechanism = "SCRAM-SHA-256"

// gs2Header is the fixed GS2 header: no channel binding, no authzid.
const gs2Header = "n,,"

// channelBinding is "c=" + base64(gs2Header), the fixed value the
// client-final message commits to since this package never supports
// channel binding.
var channelBindingValue = "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))

// MaxIterations bounds the PBKDF2 work a malicious or misconfigured
// server can demand of the client; spec.md §4.4 requires an upper
// bound be enforced.
const MaxIterations = 1_000_000

// nonceSize is the number of random bytes the client nonce is derived
// from before base64 encoding (≥16 bytes required by spec.md §4.4; 18
// raw bytes base64-encodes to 24 characters with no padding).
const nonceSize = 18

// Error is the SCRAM failure taxonomy of spec.md §4.4 / §7's
// AuthProtocol kind.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "scram: " + e.Reason }

func fail(format string, a ...any) error {
	return &Error{Reason: fmt.Sprintf(format, a...)}
}

// normalizePassword applies SASLprep (RFC 4013) to a non-ASCII
// password. Pure-ASCII passwords are used verbatim. If SASLprep fails
// (e.g. the password contains a prohibited bidirectional mix), the
// ORIGINAL bytes are returned unchanged rather than an error — this
// matches the PostgreSQL server's reference behavior and is an
// intentional compatibility quirk, not a bug (spec.md §4.4, §9).
func normalizePassword(password string) []byte {
	for i := 0; i < len(password); i++ {
		if password[i] >= 0x80 {
			if prepped, err := precis.OpaqueString.String(password); err == nil {
				return []byte(prepped)
			}
			return []byte(password)
		}
	}
	return []byte(password)
}

func randomNonce() (string, error) {
	b := make([]byte, nonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("scram: generating nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// escapeUsername replaces "=" with "=3D" and "," with "=2C" as RFC
// 5802 §5.1 requires for the username attribute.
func escapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func deriveKeys(password []byte, salt []byte, iterations int) (clientKey, storedKey, serverKey []byte) {
	salted := pbkdf2.Key(password, salt, iterations, 32, sha256.New)
	clientKey = hmacSHA256(salted, []byte("Client Key"))
	storedKey = sha256Sum(clientKey)
	serverKey = hmacSHA256(salted, []byte("Server Key"))
	return
}

func parseAttributes(msg string) map[byte]string {
	attrs := make(map[byte]string)
	for _, part := range strings.Split(msg, ",") {
		if len(part) >= 2 && part[1] == '=' {
			attrs[part[0]] = part[2:]
		}
	}
	return attrs
}

func parseIterations(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fail("malformed iteration count %q", s)
	}
	if n < 1 {
		return 0, fail("iteration count %d below minimum", n)
	}
	if n > MaxIterations {
		return 0, fail("iteration count %d exceeds maximum %d", n, MaxIterations)
	}
	return n, nil
}
