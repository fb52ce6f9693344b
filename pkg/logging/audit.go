package logging

import (
	"context"
	"log/slog"
)

// AuditEvent describes a security-relevant action for the audit trail.
// Never put credential values in any field.
type AuditEvent struct {
	// Action is what happened, e.g. "login_started", "token_refreshed", "logout".
	Action string

	// Outcome is "success" or "failure".
	Outcome string

	// FlowID correlates the events of a single login flow.
	FlowID string

	// Subject is the authenticated subject id, if known.
	Subject string

	// Issuer is the authorization server the event relates to.
	Issuer string

	// Reason carries a short failure description.
	Reason string
}

// Audit logs an audit event at INFO level with an [AUDIT] prefix for easy
// filtering by log aggregation systems.
func Audit(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", event.Action),
		slog.String("outcome", event.Outcome),
	}
	if event.FlowID != "" {
		attrs = append(attrs, slog.String("flow_id", event.FlowID))
	}
	if event.Subject != "" {
		attrs = append(attrs, slog.String("subject", event.Subject))
	}
	if event.Issuer != "" {
		attrs = append(attrs, slog.String("issuer", event.Issuer))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	Logger().LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT] "+event.Action, attrs...)
}
