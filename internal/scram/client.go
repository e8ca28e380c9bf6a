package scram

import (
	"encoding/base64"
	"fmt"
)

// clientState tags which step of the exchange a ClientTransaction is
// in; each carries exactly the bytes the next step needs, per
// spec.md §3's "states carry only the exact byte-owned material
// needed for the next verification."
type clientState int

const (
	clientInitial clientState = iota
	clientSentFirst
	clientExpectingVerifier
	clientSuccess
	clientFailure
)

// ClientTransaction drives the client side of a SCRAM-SHA-256
// exchange: Initial(username) → SentFirst(bare_first) →
// ExpectingVerifier(expected_server_signature) → Success | Failure.
type ClientTransaction struct {
	state clientState

	username    string
	password    []byte
	clientNonce string

	clientFirstBare string // needed again to build AuthMessage in Finish
	expectedSig     []byte
}

// NewClientTransaction starts a client transaction for the given
// username and password. The password is copied and zeroed by the
// caller once Finish succeeds (spec.md §9 "keep the raw password only
// until authentication completes").
func NewClientTransaction(username, password string) *ClientTransaction {
	return &ClientTransaction{
		username: username,
		password: normalizePassword(password),
	}
}

// Start produces the client-first-message (gs2-header included) and
// transitions to SentFirst.
func (t *ClientTransaction) Start() ([]byte, error) {
	if t.state != clientInitial {
		return nil, fail("Start called out of order")
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	t.clientNonce = nonce
	t.clientFirstBare = fmt.Sprintf("n=%s,r=%s", escapeUsername(t.username), nonce)
	t.state = clientSentFirst
	return []byte(gs2Header + t.clientFirstBare), nil
}

// Step consumes the server-first-message and produces the
// client-final-message, transitioning to ExpectingVerifier.
func (t *ClientTransaction) Step(serverFirst []byte) ([]byte, error) {
	if t.state != clientSentFirst {
		return nil, fail("Step called out of order")
	}
	attrs := parseAttributes(string(serverFirst))
	serverNonce, ok := attrs['r']
	if !ok || serverNonce == "" {
		return nil, fail("server-first-message missing nonce")
	}
	saltB64, ok := attrs['s']
	if !ok {
		return nil, fail("server-first-message missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fail("malformed salt: %v", err)
	}
	iterStr, ok := attrs['i']
	if !ok {
		return nil, fail("server-first-message missing iteration count")
	}
	iterations, err := parseIterations(iterStr)
	if err != nil {
		return nil, err
	}
	if len(serverNonce) < len(t.clientNonce) || serverNonce[:len(t.clientNonce)] != t.clientNonce {
		return nil, fail("server nonce does not extend client nonce")
	}

	clientKey, storedKey, serverKey := deriveKeys(t.password, salt, iterations)

	clientFinalWithoutProof := channelBindingValue + ",r=" + serverNonce
	authMessage := t.clientFirstBare + "," + string(serverFirst) + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)
	t.expectedSig = hmacSHA256(serverKey, []byte(authMessage))

	clientFinal := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	t.state = clientExpectingVerifier
	return []byte(clientFinal), nil
}

// Finish consumes the server-final-message, verifying the server
// signature, and transitions to Success or Failure.
func (t *ClientTransaction) Finish(serverFinal []byte) error {
	if t.state != clientExpectingVerifier {
		return fail("Finish called out of order")
	}
	attrs := parseAttributes(string(serverFinal))
	if errMsg, ok := attrs['e']; ok {
		t.state = clientFailure
		return fail("server reported error: %s", errMsg)
	}
	sigB64, ok := attrs['v']
	if !ok {
		t.state = clientFailure
		return fail("server-final-message missing verifier")
	}
	got, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.state = clientFailure
		return fail("malformed server signature: %v", err)
	}
	if len(got) != len(t.expectedSig) || !constantTimeEqual(got, t.expectedSig) {
		t.state = clientFailure
		return fail("server signature mismatch")
	}
	t.state = clientSuccess
	return nil
}

// Done reports whether the transaction reached a terminal state.
func (t *ClientTransaction) Done() bool {
	return t.state == clientSuccess || t.state == clientFailure
}

// Success reports whether the transaction completed successfully.
func (t *ClientTransaction) Success() bool { return t.state == clientSuccess }

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
