package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditEvent represents a security audit event for the device lock.
type AuditEvent struct {
	EventType     string // e.g. "unlock_success", "unlock_failed", "pin_setup"
	ProfileID     string // empty for the personal profile
	Method        string // "pin" or "biometric" where applicable
	Success       bool
	FailureReason string
}

// AuditLogger provides audit logging for lock operations.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogUnlockAttempt logs the outcome of an unlock attempt.
func (al *AuditLogger) LogUnlockAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "lock"),
		slog.String("attempt_id", uuid.NewString()),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.ProfileID != "" {
		attrs = append(attrs, slog.String("business_profile_id", event.ProfileID))
	}
	if event.Method != "" {
		attrs = append(attrs, slog.String("method", event.Method))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

// LogLockAction logs non-attempt lifecycle actions (lock, reset, pin_cleared).
func (al *AuditLogger) LogLockAction(eventType, profileID string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "lock"),
		slog.String("event_type", eventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if profileID != "" {
		attrs = append(attrs, slog.String("business_profile_id", profileID))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}
