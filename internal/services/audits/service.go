package audits

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"siteaudit/internal/domain"
	"siteaudit/internal/ports"
)

type Service struct {
	audits ports.AuditRepository
	jobs   ports.JobRepository
	log    *zap.Logger
}

var _ ports.Audits = (*Service)(nil)

func New(audits ports.AuditRepository, jobs ports.JobRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{audits: audits, jobs: jobs, log: log}
}

// Create stores a pending audit and queues it for the workers. It returns as
// soon as the job is queued.
func (s *Service) Create(ctx context.Context, userID string, in domain.NewAudit) (domain.Audit, error) {
	in, err := Validate(in)
	if err != nil {
		return domain.Audit{}, err
	}
	audit, err := s.audits.CreateAudit(ctx, userID, in)
	if err != nil {
		return domain.Audit{}, fmt.Errorf("creating audit: %w", err)
	}
	jobID, err := s.jobs.EnqueueAudit(ctx, audit.ID)
	if err != nil {
		// Without a job nothing would ever pick the audit up, and it never
		// started, so it is withdrawn rather than failed.
		if dErr := s.audits.DeleteAudit(context.WithoutCancel(ctx), audit.ID); dErr != nil {
			s.log.Error("withdrawing unqueued audit", zap.Int64("audit_id", audit.ID), zap.Error(dErr))
		}
		return domain.Audit{}, fmt.Errorf("queueing audit %d: %w", audit.ID, err)
	}
	s.log.Info("audit queued", zap.Int64("audit_id", audit.ID), zap.String("job_id", jobID), zap.String("url", audit.URL))
	return audit, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]domain.Audit, error) {
	return s.audits.GetAuditsByUser(ctx, userID)
}

// Get returns the audit with its results so far. Audits of other users are
// reported as ErrForbidden.
func (s *Service) Get(ctx context.Context, userID string, auditID int64) (domain.AuditWithResults, error) {
	a, err := s.audits.GetAudit(ctx, auditID)
	if err != nil {
		return domain.AuditWithResults{}, err
	}
	if a.UserID != userID {
		return domain.AuditWithResults{}, domain.ErrForbidden
	}
	return a, nil
}

func (s *Service) Delete(ctx context.Context, userID string, auditID int64) error {
	if _, err := s.Get(ctx, userID, auditID); err != nil {
		return err
	}
	if err := s.audits.DeleteAudit(ctx, auditID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.log.Info("audit deleted", zap.Int64("audit_id", auditID))
	return nil
}

// Validate trims the input and rejects what the pipeline cannot work with.
func Validate(in domain.NewAudit) (domain.NewAudit, error) {
	in.URL = strings.TrimSpace(in.URL)
	in.BusinessName = strings.TrimSpace(in.BusinessName)
	in.PrimaryService = strings.TrimSpace(in.PrimaryService)
	in.TargetCity = strings.TrimSpace(in.TargetCity)

	if err := validateURL("url", in.URL); err != nil {
		return in, err
	}
	for _, f := range []struct{ name, value string }{
		{"businessName", in.BusinessName},
		{"primaryService", in.PrimaryService},
		{"targetCity", in.TargetCity},
	} {
		if f.value == "" {
			return in, &domain.ValidationError{Field: f.name, Message: "Required"}
		}
	}
	if in.GmbURL != nil {
		gmb := strings.TrimSpace(*in.GmbURL)
		if gmb == "" {
			in.GmbURL = nil
		} else {
			if err := validateURL("gmbUrl", gmb); err != nil {
				return in, err
			}
			in.GmbURL = &gmb
		}
	}
	return in, nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return &domain.ValidationError{Field: field, Message: "Required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &domain.ValidationError{Field: field, Message: "Invalid url"}
	}
	return nil
}
