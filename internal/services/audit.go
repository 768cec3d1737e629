package services

import (
	"context"

	"rxgate/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AuditRecord is one entry handed to the audit capability.
type AuditRecord struct {
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	BusinessID uuid.UUID      `json:"business_id"`
	RiskLevel  RiskLevel      `json:"risk_level"`
	Changes    map[string]any `json:"changes,omitempty"`
}

// Auditor persists audit records. Implementations live in internal/audit.
type Auditor interface {
	RecordEvent(ctx context.Context, rec AuditRecord) error
}

// RecordAudit never fails the caller. Errors are logged and dropped.
func RecordAudit(ctx context.Context, a Auditor, rec AuditRecord) {
	if a == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.GetGlobalLogger().Ctx(ctx).Errorf("audit panic for %s %s: %v", rec.Action, rec.EntityID, r)
		}
	}()
	if err := a.RecordEvent(ctx, rec); err != nil {
		logger.GetGlobalLogger().Ctx(ctx).Logger.Warn("audit record dropped",
			zap.String("action", rec.Action),
			zap.String("entity_id", rec.EntityID.String()),
			zap.Error(err))
	}
}
