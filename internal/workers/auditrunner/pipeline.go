package auditrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"siteaudit/internal/domain"
	"siteaudit/internal/extract"
	"siteaudit/internal/ports"
	"siteaudit/internal/services/analyzer"
)

// ErrNotStarted marks a Process error after which the audit is still pending
// and its job can be retried.
var ErrNotStarted = errors.New("audit not started")

// seoDefaultScore replaces a missing seo score; the other categories use
// analyzer.FallbackScore.
const seoDefaultScore = 60

// Pipeline runs one audit through fetch, extract, the four category analyses
// and aggregation, persisting each result as soon as it exists.
type Pipeline struct {
	Repo      ports.AuditRepository
	Fetcher   ports.Fetcher
	Analyzer  ports.Analyzer
	Snapshots ports.SnapshotStore // optional
	Log       *zap.Logger
}

func (p Pipeline) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}

// Process drives the audit from pending to a terminal state. A non-nil error
// means the audit did not complete. Unless the error is ErrNotStarted the
// audit has been marked failed when possible.
func (p Pipeline) Process(ctx context.Context, auditID int64) error {
	log := p.logger().With(zap.Int64("audit_id", auditID))

	audit, err := p.Repo.GetAudit(ctx, auditID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("loading audit %d: %w", auditID, err)
		}
		return fmt.Errorf("%w: loading audit %d: %w", ErrNotStarted, auditID, err)
	}
	if _, err := p.Repo.UpdateAuditStatus(ctx, auditID, domain.StatusProcessing, nil); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("audit %d is %s, not pending: %w", auditID, audit.Status, err)
		}
		// Still pending: the job goes back to the queue.
		return fmt.Errorf("%w: entering processing: %w", ErrNotStarted, err)
	}
	log.Info("audit processing", zap.String("url", audit.URL))

	overall, err := p.run(ctx, log, audit.Audit)
	if err != nil {
		return p.fail(ctx, log, auditID, err)
	}
	if _, err := p.Repo.UpdateAuditStatus(ctx, auditID, domain.StatusCompleted, &overall); err != nil {
		return p.fail(ctx, log, auditID, fmt.Errorf("completing audit: %w", err))
	}
	log.Info("audit completed", zap.Int("overall_score", overall))
	return nil
}

// run covers steps that turn a failure into the failed status, panics included.
func (p Pipeline) run(ctx context.Context, log *zap.Logger, audit domain.Audit) (overall int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in audit pipeline: %v", r)
		}
	}()

	doc := p.Fetcher.Fetch(ctx, audit.URL, audit.BusinessName, audit.TargetCity)
	if p.Snapshots != nil {
		if err := p.Snapshots.PutDocument(ctx, audit.ID, doc); err != nil {
			log.Warn("snapshot upload failed", zap.Error(err))
		}
	}
	page := extract.Parse(doc)

	steps := []struct {
		module  domain.Module
		content string
		def     int
		data    any
	}{
		{domain.ModuleSEO, page.Composite(), seoDefaultScore, map[string]string{
			"metaTitle": page.Title,
			"metaDesc":  page.Description,
			"domain":    registrableDomain(audit.URL),
		}},
		{domain.ModuleAEO, page.Body, analyzer.FallbackScore, struct{}{}},
		{domain.ModuleGEO, page.Body, analyzer.FallbackScore, struct{}{}},
		{domain.ModuleGMB, fmt.Sprintf("Business: %s, City: %s", audit.BusinessName, audit.TargetCity), analyzer.FallbackScore, gmbData(audit)},
	}

	scores := make([]*int, 0, len(steps))
	for _, step := range steps {
		a := p.Analyzer.Analyze(ctx, step.content, step.module)
		data, err := json.Marshal(step.data)
		if err != nil {
			return 0, fmt.Errorf("encoding %s data: %w", step.module, err)
		}
		score := a.ScoreOr(step.def)
		if _, err := p.Repo.AddAuditResult(ctx, audit.ID, step.module, score, data, a.Findings); err != nil {
			return 0, fmt.Errorf("storing %s result: %w", step.module, err)
		}
		log.Debug("category analyzed", zap.String("module", string(step.module)), zap.Int("score", score))
		scores = append(scores, a.Score)
	}
	return Aggregate(scores...), nil
}

// fail records the failed status. The write is detached from ctx so a
// shutdown mid-run still leaves a terminal record.
func (p Pipeline) fail(ctx context.Context, log *zap.Logger, auditID int64, cause error) error {
	log.Error("audit failed", zap.Error(cause))
	if _, err := p.Repo.UpdateAuditStatus(context.WithoutCancel(ctx), auditID, domain.StatusFailed, nil); err != nil {
		log.Error("recording failed status", zap.Error(err))
		return errors.Join(cause, fmt.Errorf("recording failed status: %w", err))
	}
	return cause
}

// Aggregate is the rounded mean of the category scores; a missing score counts as 0.
func Aggregate(scores ...*int) int {
	if len(scores) == 0 {
		return 0
	}
	total := 0
	for _, s := range scores {
		if s != nil {
			total += *s
		}
	}
	return int(math.Round(float64(total) / float64(len(scores))))
}

func gmbData(a domain.Audit) map[string]string {
	out := map[string]string{"businessName": a.BusinessName, "targetCity": a.TargetCity}
	if a.GmbURL != nil {
		out["gmbUrl"] = *a.GmbURL
	}
	return out
}

// registrableDomain returns the eTLD+1 of rawurl, or its host when the
// public suffix list has no answer.
func registrableDomain(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return registrable
}
