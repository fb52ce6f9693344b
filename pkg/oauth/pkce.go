package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// stateBytes is the number of random bytes in a correlation token. 32 bytes
// encode to 43 base64url characters.
const stateBytes = 32

// GeneratePKCE generates a new S256 PKCE verifier and challenge.
func GeneratePKCE() *PKCEChallenge {
	verifier := oauth2.GenerateVerifier()
	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	}
}

// GenerateState generates an unguessable correlation token for the
// authorization request.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
