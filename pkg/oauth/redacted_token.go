package oauth

// RedactedToken wraps a credential so that formatting it in logs, errors or
// JSON yields "[REDACTED]".
type RedactedToken struct {
	value string
}

// NewRedactedToken wraps value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the wrapped credential. Never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

func (t RedactedToken) String() string {
	return "[REDACTED]"
}

func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{[REDACTED]}"
}

// IsEmpty returns true if the wrapped value is empty.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
