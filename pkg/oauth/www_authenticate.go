package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var authParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
//
//	Bearer realm="console"
//	Bearer error="invalid_token", error_description="The token has expired"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &AuthChallenge{Scheme: parts[0]}
	if len(parts) == 1 {
		return challenge, nil
	}

	params := parseAuthParams(parts[1])
	challenge.Realm = params["realm"]
	challenge.Scope = params["scope"]
	challenge.Error = params["error"]
	challenge.ErrorDescription = params["error_description"]
	return challenge, nil
}

// parseAuthParams parses key="value" pairs.
func parseAuthParams(paramStr string) map[string]string {
	params := make(map[string]string)
	for _, match := range authParamRegex.FindAllStringSubmatch(paramStr, -1) {
		params[strings.ToLower(match[1])] = match[2]
	}
	return params
}

// ParseWWWAuthenticateFromResponse extracts the challenge from a 401 response.
// Returns nil if the response is not a 401 or carries no usable header.
func ParseWWWAuthenticateFromResponse(resp *http.Response) *AuthChallenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	challenge, err := ParseWWWAuthenticate(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		return nil
	}
	return challenge
}
