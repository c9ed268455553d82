package audit

import (
	"context"
	"errors"
	"strings"

	"tellerline.org/internal/auth"
	"tellerline.org/internal/ids"
	"tellerline.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Audit event names.
const (
	EventLinkAdded      = "account_link.added"
	EventLinkRemoved    = "account_link.removed"
	EventLinkReassigned = "account_link.reassigned"
	EventLogin          = "session.login"
	EventLogout         = "session.logout"
	EventScopeOpened    = "session.scope_opened"
	EventScopeClosed    = "session.scope_closed"
	EventTxCommitted    = "session.transaction_committed"
)

// LogEvent writes an audit entry enriched with request and principal context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	logger := obs.Logger()
	e := logger.Log().
		Str("type", "audit").
		Str("event", event).
		Str("audit_id", ids.New())
	if rid := requestIDFromContext(ctx); rid != "" {
		e = e.Str("request_id", rid)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		e = e.Str("principal", p.Subject())
	}
	if fields == nil {
		fields = map[string]any{}
	}
	e.Interface("fields", fields).Send()
	return nil
}
