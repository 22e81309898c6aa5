package logging

import (
	"context"
	"log/slog"
)

// AuditEvent records a security-relevant session change.
type AuditEvent struct {
	// Action is what happened, e.g. "login", "logout", "refresh".
	Action string
	// Outcome is "success" or "failure".
	Outcome string
	// ClientID identifies the application.
	ClientID string
	// Subject is the authenticated user, when known.
	Subject string
	// Error is the failure reason, empty on success.
	Error string
}

// Audit logs e at INFO with an [AUDIT] prefix. Tokens are never part of an
// audit event.
func Audit(e AuditEvent) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		l = slog.Default()
	}

	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", e.Action),
		slog.String("outcome", e.Outcome),
	}
	if e.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", e.ClientID))
	}
	if e.Subject != "" {
		attrs = append(attrs, slog.String("subject", e.Subject))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT] "+e.Action, attrs...)
}
