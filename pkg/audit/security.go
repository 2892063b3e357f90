// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/logging"
	"github.com/leafcare/leafcare-engine/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionAttempt is logged when libinjection flags submitted free text.
	EventInjectionAttempt SecurityEventType = "injection_attempt"
	// EventLoginFailure is logged for every rejected login.
	EventLoginFailure SecurityEventType = "login_failure"
	// EventRefreshRejected is logged when a refresh token is refused.
	EventRefreshRejected SecurityEventType = "refresh_rejected"
	// EventForbidden is logged when an authenticated caller lacks the required role.
	EventForbidden SecurityEventType = "forbidden_access"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a detected injection attempt.
type InjectionDetails struct {
	Field       string `json:"field"`
	Kind        string `json:"kind"`                  // sqli or xss
	Fingerprint string `json:"fingerprint,omitempty"` // libinjection fingerprint for pattern analysis
	Sample      string `json:"sample"`                // truncated submitted value
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// Events carry the "security_audit" logger name for filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) newEvent(ctx context.Context, eventType SecurityEventType, severity string, details any) SecurityEvent {
	return SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    auth.GetUserIDFromContext(ctx),
		ClientIP:  ClientIPFromContext(ctx),
		RequestID: RequestIDFromContext(ctx),
		Details:   details,
		Severity:  severity,
	}
}

func (a *SecurityAuditor) emit(level zapcore.Level, msg string, event SecurityEvent, fields ...zap.Field) {
	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)
	fields = append([]zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(event.EventType)),
		zap.String("user_id", event.UserID),
		zap.String("client_ip", event.ClientIP),
		zap.String("request_id", event.RequestID),
		zap.String("severity", event.Severity),
	}, fields...)

	a.logger.Log(level, msg, fields...)
}

// LogInjectionAttempt records free text that libinjection flagged.
// This is logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details InjectionDetails) {
	details.Sample = logging.TruncateString(details.Sample, 200)
	event := a.newEvent(ctx, EventInjectionAttempt, "critical", details)
	a.emit(zapcore.ErrorLevel, "Injection attempt detected", event,
		zap.String("field", details.Field),
		zap.String("kind", details.Kind),
		zap.String("fingerprint", details.Fingerprint))
}

// LogLoginFailure records a rejected login. The reason stays server side;
// clients always see the same generic message.
func (a *SecurityAuditor) LogLoginFailure(ctx context.Context, email, reason string) {
	event := a.newEvent(ctx, EventLoginFailure, "warning", map[string]string{
		"email":  models.NormalizeEmail(email),
		"reason": reason,
	})
	a.emit(zapcore.WarnLevel, "Login failed", event,
		zap.String("email", models.NormalizeEmail(email)),
		zap.String("reason", reason))
}

// LogRefreshRejected records a refused refresh token.
func (a *SecurityAuditor) LogRefreshRejected(ctx context.Context, subject, reason string) {
	event := a.newEvent(ctx, EventRefreshRejected, "warning", map[string]string{
		"subject": subject,
		"reason":  reason,
	})
	a.emit(zapcore.WarnLevel, "Refresh token rejected", event,
		zap.String("subject", subject),
		zap.String("reason", reason))
}

// LogForbidden records an authenticated request refused by the role gate.
func (a *SecurityAuditor) LogForbidden(ctx context.Context, userID, path string, required []models.Role) {
	event := a.newEvent(ctx, EventForbidden, "warning", map[string]any{
		"path":     path,
		"required": models.RoleStrings(required),
	})
	if event.UserID == "" {
		event.UserID = userID
	}
	a.emit(zapcore.WarnLevel, "Forbidden access", event,
		zap.String("path", path),
		zap.Strings("required_roles", models.RoleStrings(required)))
}

// Ensure SecurityAuditor can be handed to the auth middleware.
var _ auth.AccessAuditor = (*SecurityAuditor)(nil)
