// Package audit emits the security events this subsystem is contractually
// required to produce. Persistence belongs to the collector reading the log
// stream; emission failure is logged and never fails the original request.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"artel.org/internal/ids"
	"artel.org/internal/obs"
)

// Event types emitted by the session and traffic-control subsystem.
const (
	EventLogin        = "auth.login"
	EventLoginFailed  = "auth.login_failed"
	EventLogout       = "auth.logout"
	EventLogoutAll    = "auth.logout_all"
	EventTokenRefresh = "auth.token_refresh"
	EventAccessDenied = "auth.access_denied"
	EventRateLimited  = "traffic.rate_limited"
	EventFlagChange   = "controlplane.flag_change"
)

// Emitter receives structured security events. The production emitter writes
// JSON lines; tests substitute a capture sink.
type Emitter interface {
	Emit(ctx context.Context, event string, fields map[string]any)
}

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	actorIDKey   ctxKey = "audit_actor_id"
)

// WithRequestID attaches the request identifier for event enrichment.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithActor attaches the acting subject for event enrichment.
func WithActor(ctx context.Context, actorID string) context.Context {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorIDKey, actorID)
}

func fromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

var _ Emitter = Log{}

// Log emits events as JSON lines through the shared logger.
type Log struct{}

func (Log) Emit(ctx context.Context, event string, fields map[string]any) {
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	entry := map[string]any{
		"id":    ids.New(),
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "security_event",
		"event": event,
	}
	if rid := fromContext(ctx, requestIDKey); rid != "" {
		entry["request_id"] = rid
	}
	if actor := fromContext(ctx, actorIDKey); actor != "" {
		entry["actor_id"] = actor
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		obs.Logger().Println(`{"level":"error","msg":"security event marshal failed","event":"` + event + `"}`)
		return
	}
	obs.Logger().Println(string(data))
}
