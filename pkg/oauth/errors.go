package oauth

import (
	"encoding/json"
	"fmt"
)

// TokenError is a non-2xx response from the token endpoint.
type TokenError struct {
	StatusCode  int
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *TokenError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
	}
	if e.Description == "" {
		return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token endpoint returned status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// InvalidGrant reports whether the server rejected the code or refresh token
// itself, as opposed to a server-side failure.
func (e *TokenError) InvalidGrant() bool {
	return e.Code == "invalid_grant"
}

// parseTokenError builds a TokenError from a response body. Bodies that are
// not RFC 6749 error JSON still yield an error carrying the status code.
func parseTokenError(status int, body []byte) *TokenError {
	te := &TokenError{StatusCode: status}
	_ = json.Unmarshal(body, te)
	return te
}
