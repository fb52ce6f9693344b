// Package logging provides subsystem-tagged structured logging for warden,
// built on Go's standard slog package.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Session", "Session restored for %s", username)
//	logging.Debug("Config", "Loaded configuration from %s", configPath)
//	logging.Error("Flow", err, "Token exchange failed")
//
// Every entry carries a "subsystem" attribute. Errors are attached as an
// "error" attribute rather than being formatted into the message.
//
// # Audit Logging
//
// Security-sensitive operations (login, callback, refresh, logout) are
// recorded through Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "token_refreshed",
//	    Outcome: "success",
//	    Subject: identity.SubjectID,
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix. Credential
// values must never be placed in log messages or audit fields.
package logging
