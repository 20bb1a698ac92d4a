package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// pkceExchange holds the verifier/state pair for a single authorization
// attempt. The derived challenge must match between the authorization
// request and the later code exchange; the pair is cleared on logout.
type pkceExchange struct {
	Verifier string
	State    string
}

func newPKCEExchange() (*pkceExchange, error) {
	verifier, err := randomToken()
	if err != nil {
		return nil, err
	}
	state, err := randomToken()
	if err != nil {
		return nil, err
	}
	return &pkceExchange{Verifier: verifier, State: state}, nil
}

// Challenge derives the S256 code challenge for the verifier.
func (p *pkceExchange) Challenge() string {
	sum := sha256.Sum256([]byte(p.Verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
