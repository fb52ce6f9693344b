package identity

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when a token is not a three-segment JWT with
// a JSON payload.
var ErrMalformedToken = errors.New("malformed access token")

// Decoder extracts an Identity from access token claims.
type Decoder struct {
	// ExtraRoleClaims names additional top-level claims (such as "groups")
	// whose string values are merged into the role set.
	ExtraRoleClaims []string

	parser *jwt.Parser
}

// NewDecoder creates a decoder that also reads extraRoleClaims.
func NewDecoder(extraRoleClaims ...string) *Decoder {
	return &Decoder{
		ExtraRoleClaims: extraRoleClaims,
		parser:          jwt.NewParser(),
	}
}

var defaultDecoder = NewDecoder()

// Decode decodes accessToken with the default decoder.
func Decode(accessToken string) (*Identity, error) {
	return defaultDecoder.Decode(accessToken)
}

// Decode parses the token payload without verifying its signature and maps
// its claims to an Identity.
func (d *Decoder) Decode(accessToken string) (*Identity, error) {
	if strings.Count(accessToken, ".") != 2 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformedToken)
	}

	parser := d.parser
	if parser == nil {
		parser = jwt.NewParser()
	}

	claims := jwt.MapClaims{}
	// An unknown or missing alg only matters for verification; the claims
	// have already been decoded by then.
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	id := &Identity{
		SubjectID:   stringClaim(claims, "sub"),
		Email:       stringClaim(claims, "email"),
		DisplayName: displayName(claims),
		Roles:       d.roles(claims),
	}
	id.Username = firstNonEmpty(stringClaim(claims, "preferred_username"), id.Email, id.SubjectID)

	return id, nil
}

func (d *Decoder) roles(claims jwt.MapClaims) []string {
	var roles []string

	// resource_access: {"<client>": {"roles": [...]}}
	if ra, ok := claims["resource_access"].(map[string]interface{}); ok {
		for _, client := range ra {
			if c, ok := client.(map[string]interface{}); ok {
				roles = append(roles, stringSlice(c["roles"])...)
			}
		}
	}

	if realm, ok := claims["realm_access"].(map[string]interface{}); ok {
		roles = append(roles, stringSlice(realm["roles"])...)
	}

	for _, name := range d.ExtraRoleClaims {
		roles = append(roles, stringSlice(claims[name])...)
	}

	slices.Sort(roles)
	roles = slices.Compact(roles)
	if roles == nil {
		roles = []string{}
	}
	return roles
}

func displayName(claims jwt.MapClaims) string {
	if name := stringClaim(claims, "name"); name != "" {
		return name
	}
	return strings.TrimSpace(stringClaim(claims, "given_name") + " " + stringClaim(claims, "family_name"))
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// stringSlice accepts a JSON array of strings or a single string. Non-string
// and empty entries are skipped.
func stringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if val != "" {
			return []string{val}
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
