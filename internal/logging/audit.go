package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventAuthentication   AuditEventType = "authentication"
	AuditEventLockout          AuditEventType = "lockout"
	AuditEventModelUnavailable AuditEventType = "model_unavailable"
	AuditEventTrainingRun      AuditEventType = "training_run"
	AuditEventConfigChange     AuditEventType = "config_change"
	AuditEventKeyGenerated     AuditEventType = "key_generated"
)

// AuditEvent represents a security-relevant event. It never carries prompt
// text.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Component string         `json:"component"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Result    string         `json:"result"` // "success", "failure", "denied"
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be compressed.
	Compress bool

	// Component is the component name for audit events.
	Component string

	// Writer overrides FilePath when set.
	Writer io.Writer
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   DefaultLogPath("audit.log"),
		MaxSize:    50,
		MaxAge:     90,
		MaxBackups: 10,
		Compress:   true,
		Component:  "styleauth",
	}
}

// AuditLogger writes one JSON line per event. A nil *AuditLogger is valid
// and discards events.
type AuditLogger struct {
	config *AuditLoggerConfig
	w      io.Writer
	closer io.Closer
	mu     sync.Mutex
	now    func() time.Time
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	a := &AuditLogger{config: cfg, now: time.Now}
	if cfg.Writer != nil {
		a.w = cfg.Writer
		return a, nil
	}

	f, err := newRotatingFile(cfg.FilePath, cfg.MaxSize, cfg.MaxAge, cfg.MaxBackups, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("create audit log: %w", err)
	}
	a.w = f
	a.closer = f
	return a, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := a.w.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogAuthentication records one authentication decision.
func (a *AuditLogger) LogAuthentication(ctx context.Context, userID, sessionID, outcome string, certainty, confidence float64) error {
	result := "success"
	if outcome != "GRANTED" {
		result = "denied"
	}
	details := map[string]any{
		"outcome":   outcome,
		"certainty": certainty,
	}
	if sessionID != "" {
		details["confidence"] = confidence
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventAuthentication,
		UserID:    userID,
		SessionID: sessionID,
		Action:    "authenticate",
		Result:    result,
		Details:   details,
	})
}

// LogLockout records a session lockout and the confidence that caused it.
func (a *AuditLogger) LogLockout(ctx context.Context, userID, sessionID string, reached float64) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventLockout,
		UserID:    userID,
		SessionID: sessionID,
		Action:    "session_locked",
		Result:    "denied",
		Details:   map[string]any{"confidence": reached},
	})
}

// LogModelUnavailable records a fail-closed denial caused by a missing or
// unreadable model bank.
func (a *AuditLogger) LogModelUnavailable(ctx context.Context, userID string, err error) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventModelUnavailable,
		UserID:    userID,
		Action:    "load_bank",
		Result:    "failure",
		Error:     err.Error(),
	})
}

// LogTrainingRun records a completed training run.
func (a *AuditLogger) LogTrainingRun(ctx context.Context, userID string, models, trainSamples, testSamples int) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventTrainingRun,
		UserID:    userID,
		Action:    "train",
		Result:    "success",
		Details: map[string]any{
			"models":        models,
			"train_samples": trainSamples,
			"test_samples":  testSamples,
		},
	})
}

// LogConfigChange logs a configuration change.
func (a *AuditLogger) LogConfigChange(ctx context.Context, setting, oldValue, newValue string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventConfigChange,
		Action:    "config_changed",
		Resource:  setting,
		Result:    "success",
		Details: map[string]any{
			"old_value": oldValue,
			"new_value": newValue,
		},
	})
}

// LogKeyGenerated logs creation of the integrity master key.
func (a *AuditLogger) LogKeyGenerated(ctx context.Context, path string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventKeyGenerated,
		Action:    "key_generated",
		Resource:  path,
		Result:    "success",
	})
}

// Close closes the audit log file.
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
