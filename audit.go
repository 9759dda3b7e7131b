package shopauth

import (
	"context"
	"io"
	"log/slog"

	internalaudit "github.com/storefront/shopauth/internal/audit"
)

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	SlogSink       = internalaudit.SlogSink
)

// NewChannelSink returns a sink that buffers up to buffer events for a reader.
func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return internalaudit.NewJSONWriterSink(w) }

// NewSlogSink logs events through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink { return internalaudit.NewSlogSink(logger) }

const (
	auditEventRegister       = "register"
	auditEventLogin          = "login"
	auditEventLoginGoogle    = "login_google"
	auditEventRefresh        = "refresh"
	auditEventRefreshReuse   = "refresh_reuse"
	auditEventLogout         = "logout"
	auditEventPasswordChange = "password_change"
	auditEventResetRequest   = "password_reset_request"
	auditEventResetConfirm   = "password_reset"
	auditEventSessionRevoked = "session_revoked"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, reason string, err error, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Success:   success,
		Reason:    reason,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}
