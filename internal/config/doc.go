// Package config provides configuration management for warden.
//
// Configuration is read from a single YAML file, config.yaml, in the
// configuration directory. The default directory is ~/.config/warden; the
// --config-path flag selects another one. A missing file is not an error:
// the defaults are used.
//
// # File Format
//
//	issuer: https://sso.example.com/realms/platform
//	client_id: console
//	scopes: [openid, profile, email]
//	use_pkce: true
//	refresh_skew: 5m
//	renew_interval: 1m
//	token_timeout: 15s
//	identity:
//	  extra_role_claims: [groups]
//	cli:
//	  callback_port: 8085
//	console:
//	  host: localhost
//	  port: 8080
//	  routes:
//	    - prefix: /admin/
//	      require_auth: true
//	      roles: [admin]
//	      upstream: http://localhost:9000
//
// Durations use Go duration syntax. Endpoints are discovered from the issuer
// unless set explicitly under endpoints.
//
// # Environment
//
// WARDEN_ISSUER and WARDEN_CLIENT_ID override the file values.
//
// # Validation
//
// Validate collects every problem into ValidationErrors instead of stopping
// at the first one.
package config
