package scram

import (
	"encoding/base64"
	"fmt"
)

// ServerKeys are the credential-provider-supplied values a server
// transaction verifies against: StoredKey and ServerKey derived once
// at credential-provisioning time (typically from the same PBKDF2
// derivation the client performs), plus the salt/iterations the
// client needs to reproduce them.
type ServerKeys struct {
	Salt       []byte
	Iterations int
	StoredKey  []byte
	ServerKey  []byte
}

// NewServerKeys derives ServerKeys from a plaintext password, salt and
// iteration count — used only by the in-repo mirror test server
// (spec.md §6) to stand in for a real credential provider.
func NewServerKeys(password string, salt []byte, iterations int) ServerKeys {
	clientKey, storedKey, serverKey := deriveKeys(normalizePassword(password), salt, iterations)
	_ = clientKey
	return ServerKeys{Salt: salt, Iterations: iterations, StoredKey: storedKey, ServerKey: serverKey}
}

type serverState int

const (
	serverInitial serverState = iota
	serverSentChallenge
	serverSuccess
	serverFailure
)

// ServerTransaction drives the server side of a SCRAM-SHA-256
// exchange: Initial → SentChallenge(bare_first, first_response) →
// Success | Failure.
type ServerTransaction struct {
	state serverState
	keys  ServerKeys

	clientFirstBare string
	serverFirst     string
	serverNonce     string
}

// NewServerTransaction constructs a server transaction that will
// verify the client against keys.
func NewServerTransaction(keys ServerKeys) *ServerTransaction {
	return &ServerTransaction{keys: keys}
}

// Step consumes the client-first-message (gs2-header included) and
// produces the server-first-message.
func (t *ServerTransaction) Step(clientFirst []byte) ([]byte, error) {
	if t.state != serverInitial {
		return nil, fail("Step called out of order")
	}
	s := string(clientFirst)
	if len(s) < 3 || s[:3] != gs2Header {
		return nil, fail("unsupported gs2-header %q", firstN(s, 3))
	}
	bare := s[3:]
	attrs := parseAttributes(bare)
	clientNonce, ok := attrs['r']
	if !ok || clientNonce == "" {
		return nil, fail("client-first-message missing nonce")
	}

	serverNonceRand, err := randomNonce()
	if err != nil {
		return nil, err
	}
	t.serverNonce = clientNonce + serverNonceRand
	t.clientFirstBare = bare
	t.serverFirst = fmt.Sprintf("r=%s,s=%s,i=%d", t.serverNonce,
		base64.StdEncoding.EncodeToString(t.keys.Salt), t.keys.Iterations)

	t.state = serverSentChallenge
	return []byte(t.serverFirst), nil
}

// Finish consumes the client-final-message, verifies the client
// proof, and produces the server-final-message (either the verifier
// or an error attribute).
func (t *ServerTransaction) Finish(clientFinal []byte) ([]byte, error) {
	if t.state != serverSentChallenge {
		return nil, fail("Finish called out of order")
	}
	attrs := parseAttributes(string(clientFinal))
	cbind, ok := attrs['c']
	if !ok || cbind != base64.StdEncoding.EncodeToString([]byte(gs2Header)) {
		t.state = serverFailure
		return t.errorFinal("channel binding mismatch"), fail("channel binding mismatch")
	}
	nonce, ok := attrs['r']
	if !ok || nonce != t.serverNonce {
		t.state = serverFailure
		return t.errorFinal("nonce mismatch"), fail("nonce mismatch")
	}
	proofB64, ok := attrs['p']
	if !ok {
		t.state = serverFailure
		return t.errorFinal("missing proof"), fail("missing proof")
	}
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		t.state = serverFailure
		return t.errorFinal("malformed proof"), fail("malformed proof: %v", err)
	}

	clientFinalWithoutProof := "c=" + cbind + ",r=" + nonce
	authMessage := t.clientFirstBare + "," + t.serverFirst + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(t.keys.StoredKey, []byte(authMessage))
	clientKey := xorBytes(proof, clientSignature)
	if !constantTimeEqual(sha256Sum(clientKey), t.keys.StoredKey) {
		t.state = serverFailure
		return t.errorFinal("proof mismatch"), fail("proof mismatch")
	}

	serverSignature := hmacSHA256(t.keys.ServerKey, []byte(authMessage))
	t.state = serverSuccess
	return []byte("v=" + base64.StdEncoding.EncodeToString(serverSignature)), nil
}

func (t *ServerTransaction) errorFinal(reason string) []byte {
	return []byte("e=" + reason)
}

// Success reports whether the transaction completed successfully.
func (t *ServerTransaction) Success() bool { return t.state == serverSuccess }

func firstN(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
