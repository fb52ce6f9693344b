package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the configuration and returns ValidationErrors listing
// every problem, or nil.
func (c WardenConfig) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Issuer) == "" {
		errs.Add("issuer", "is required (set it in config.yaml or "+EnvIssuer+")")
	} else if err := validateHTTPURL(c.Issuer); err != nil {
		errs.Add("issuer", err.Error(), c.Issuer)
	}
	if strings.TrimSpace(c.ClientID) == "" {
		errs.Add("client_id", "is required (set it in config.yaml or "+EnvClientID+")")
	}

	for _, ep := range []struct{ field, value string }{
		{"endpoints.authorization", c.Endpoints.Authorization},
		{"endpoints.token", c.Endpoints.Token},
		{"endpoints.end_session", c.Endpoints.EndSession},
	} {
		if ep.value == "" {
			continue
		}
		if err := validateHTTPURL(ep.value); err != nil {
			errs.Add(ep.field, err.Error(), ep.value)
		}
	}
	if (c.Endpoints.Authorization == "") != (c.Endpoints.Token == "") {
		errs.Add("endpoints", "authorization and token must be set together")
	}

	if c.RefreshSkew <= 0 {
		errs.Add("refresh_skew", "must be positive", c.RefreshSkew.String())
	}
	if c.RenewInterval <= 0 {
		errs.Add("renew_interval", "must be positive", c.RenewInterval.String())
	} else if c.RenewInterval >= c.RefreshSkew {
		errs.Add("renew_interval", fmt.Sprintf("must be shorter than refresh_skew (%s)", c.RefreshSkew), c.RenewInterval.String())
	}
	if c.TokenTimeout <= 0 {
		errs.Add("token_timeout", "must be positive", c.TokenTimeout.String())
	}

	if c.CLI.CallbackPort < 0 || c.CLI.CallbackPort > 65535 {
		errs.Add("cli.callback_port", "must be between 0 and 65535", c.CLI.CallbackPort)
	}
	if c.Console.Port <= 0 || c.Console.Port > 65535 {
		errs.Add("console.port", "must be between 1 and 65535", c.Console.Port)
	}
	if c.Console.PublicURL != "" {
		if err := validateHTTPURL(c.Console.PublicURL); err != nil {
			errs.Add("console.public_url", err.Error(), c.Console.PublicURL)
		}
	}

	seen := make(map[string]bool)
	for i, r := range c.Console.Routes {
		field := fmt.Sprintf("console.routes[%d]", i)
		if !strings.HasPrefix(r.Prefix, "/") {
			errs.Add(field+".prefix", "must start with /", r.Prefix)
		}
		if reservedPath(r.Prefix) {
			errs.Add(field+".prefix", "collides with a built-in console path", r.Prefix)
		}
		if seen[r.Prefix] {
			errs.Add(field+".prefix", "is declared more than once", r.Prefix)
		}
		seen[r.Prefix] = true
		if r.Upstream != "" {
			if err := validateHTTPURL(r.Upstream); err != nil {
				errs.Add(field+".upstream", err.Error(), r.Upstream)
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http or https URL")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

// reservedPaths are served by the console itself.
var reservedPaths = []string{"/login", "/callback", "/logout", "/api/session", "/healthz"}

func reservedPath(prefix string) bool {
	for _, p := range reservedPaths {
		if prefix == p || strings.HasPrefix(prefix, p+"/") {
			return true
		}
	}
	return false
}
