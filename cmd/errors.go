package cmd

import "fmt"

// AuthRequiredError indicates there is no usable session.
type AuthRequiredError struct {
	// Issuer is the authorization server the session belongs to.
	Issuer string
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Not signed in to %s

To sign in, run:
  warden auth login`, e.Issuer)
}

// AuthFailedError indicates the login or refresh flow failed.
type AuthFailedError struct {
	Issuer string
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication with %s failed: %v

To retry, run:
  warden auth login`, e.Issuer, e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}
