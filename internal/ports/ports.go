package ports

import (
	"context"

	"siteaudit/internal/domain"
)

// Audits is the audit use-case surface consumed by the HTTP adapter.
type Audits interface {
	Create(ctx context.Context, userID string, in domain.NewAudit) (domain.Audit, error)
	List(ctx context.Context, userID string) ([]domain.Audit, error)
	Get(ctx context.Context, userID string, auditID int64) (domain.AuditWithResults, error)
	Delete(ctx context.Context, userID string, auditID int64) error
}

// Fetcher retrieves a page. It never fails: unreachable pages yield
// synthesized content built from the business name and city.
type Fetcher interface {
	Fetch(ctx context.Context, url, businessName, city string) string
}

// Completer is a text-completion model that is asked for a JSON object.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Analyzer scores one category of content. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, content string, module domain.Module) domain.Analysis
}

// SnapshotStore keeps a copy of the fetched document.
type SnapshotStore interface {
	PutDocument(ctx context.Context, auditID int64, body string) error
}
