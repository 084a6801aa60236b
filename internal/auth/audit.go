package auth

import (
	"context"

	"acero-store/internal/jobs"
	"acero-store/internal/observability"
)

const (
	ActionUserRegistered     = "user_registered"
	ActionLoginFailed        = "login_failed"
	ActionLoginSuccess       = "login_success"
	ActionLogout             = "logout"
	ActionProfileUpdated     = "profile_updated"
	ActionEmailVerified      = "email_verified"
	ActionVerificationResent = "verification_resent"
	ActionPhoneLinkRequested = "phone_link_requested"
	ActionPhoneLogin         = "phone_login"
)

// Auditor writes audit records off the request path. Failures are logged and
// never reach the caller.
type Auditor struct {
	store  AuditStore
	queue  *jobs.Queue
	logger *observability.Logger
}

func NewAuditor(store AuditStore, queue *jobs.Queue, logger *observability.Logger) *Auditor {
	return &Auditor{store: store, queue: queue, logger: logger}
}

func (a *Auditor) Record(meta RequestMeta, userID, action string, details map[string]any) {
	entry := AuditEntry{
		Action:       action,
		ResourceType: "user",
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Details:      details,
	}
	if userID != "" {
		entry.UserID = &userID
		entry.ResourceID = &userID
	}

	accepted := a.queue.Submit(jobs.Job{
		Name: "audit_" + action,
		Run: func(ctx context.Context) error {
			return a.store.InsertAudit(ctx, entry)
		},
	})
	if !accepted {
		a.logger.Warn("audit_dropped", map[string]any{"action": action, "user_id": userID})
	}
}
