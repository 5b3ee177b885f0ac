package ports

import (
	"context"
	"encoding/json"
	"time"

	"siteaudit/internal/domain"
)

// AuditRepository persists audits and their per-category results.
type AuditRepository interface {
	CreateAudit(ctx context.Context, userID string, in domain.NewAudit) (domain.Audit, error)
	// UpdateAuditStatus applies a legal lifecycle transition. overallScore is
	// stored only when status is completed.
	UpdateAuditStatus(ctx context.Context, auditID int64, status domain.Status, overallScore *int) (domain.Audit, error)
	AddAuditResult(ctx context.Context, auditID int64, module domain.Module, score int, data json.RawMessage, findings []domain.Finding) (domain.AuditResult, error)
	GetAudit(ctx context.Context, auditID int64) (domain.AuditWithResults, error)
	GetAuditsByUser(ctx context.Context, userID string) ([]domain.Audit, error)
	// DeleteAudit removes all results first, then the audit.
	DeleteAudit(ctx context.Context, auditID int64) error
	// FailStaleProcessing moves audits stuck in processing since before cutoff to failed.
	FailStaleProcessing(ctx context.Context, cutoff time.Time) ([]int64, error)
	Ping(ctx context.Context) error
}
