package portalauth

import (
	"context"
	"time"
)

const (
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventLoginRateLimited = "login_rate_limited"
	auditEventCodeSent         = "login_code_sent"
	auditEventCodeRejected     = "login_code_rejected"
	auditEventRefreshSuccess   = "refresh_success"
	auditEventRefreshFailure   = "refresh_failure"
	auditEventRefreshReplay    = "refresh_replay_detected"
	auditEventLogoutSession    = "logout_session"
	auditEventLogoutAll        = "logout_all"
	auditEventAccountStatus    = "account_status_change"
	auditEventAccountRoles     = "account_roles_change"
	auditEventAccountOverrides = "account_overrides_change"
	auditEventIdentityLinked   = "external_identity_linked"
)

// criticalAuditEvent marks events that wait for buffer space instead of
// being dropped outright.
func criticalAuditEvent(ev AuditEvent) bool {
	switch ev.EventType {
	case auditEventRefreshReplay, auditEventAccountStatus:
		return true
	}
	return false
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		SessionID:   sessionID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Error:       ErrCode(err),
		Metadata:    metadata,
	})
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// metricInc and metricObserve keep call sites short.
func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil {
		return
	}
	e.metrics.Observe(id, d)
}
