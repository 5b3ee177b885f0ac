// Package memory is a process-local store used when no database is configured
// and by tests. It implements the same ports as the Postgres adapter.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"siteaudit/internal/domain"
	"siteaudit/internal/ports"
)

type job struct {
	id       string
	auditID  int64
	status   string
	workerID string
	reason   string
}

type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	nextAudit  int64
	nextResult int64
	nextJob    int64
	audits     map[int64]domain.Audit
	results    map[int64][]domain.AuditResult
	jobs       []*job
}

var (
	_ ports.AuditRepository = (*Store)(nil)
	_ ports.JobRepository   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		now:     time.Now,
		audits:  map[int64]domain.Audit{},
		results: map[int64][]domain.AuditResult{},
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateAudit(_ context.Context, userID string, in domain.NewAudit) (domain.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAudit++
	a := domain.Audit{
		ID:             s.nextAudit,
		UserID:         userID,
		URL:            in.URL,
		BusinessName:   in.BusinessName,
		PrimaryService: in.PrimaryService,
		TargetCity:     in.TargetCity,
		GmbURL:         in.GmbURL,
		Status:         domain.StatusPending,
		CreatedAt:      s.now(),
	}
	s.audits[a.ID] = a
	return a, nil
}

func (s *Store) UpdateAuditStatus(_ context.Context, auditID int64, status domain.Status, overallScore *int) (domain.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[auditID]
	if !ok {
		return domain.Audit{}, domain.ErrNotFound
	}
	if !domain.CanTransition(a.Status, status) {
		return domain.Audit{}, domain.ErrInvalidTransition
	}
	now := s.now()
	a.Status = status
	switch status {
	case domain.StatusProcessing:
		a.StartedAt = &now
	case domain.StatusCompleted:
		a.FinishedAt = &now
		if overallScore != nil {
			a.OverallScore = *overallScore
		}
	case domain.StatusFailed:
		a.FinishedAt = &now
	}
	s.audits[auditID] = a
	return a, nil
}

func (s *Store) AddAuditResult(_ context.Context, auditID int64, module domain.Module, score int, data json.RawMessage, findings []domain.Finding) (domain.AuditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[auditID]; !ok {
		return domain.AuditResult{}, domain.ErrNotFound
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if findings == nil {
		findings = []domain.Finding{}
	}
	s.nextResult++
	r := domain.AuditResult{
		ID:        s.nextResult,
		AuditID:   auditID,
		Module:    module,
		Score:     score,
		Data:      append(json.RawMessage(nil), data...),
		Findings:  append([]domain.Finding(nil), findings...),
		CreatedAt: s.now(),
	}
	s.results[auditID] = append(s.results[auditID], r)
	return r, nil
}

func (s *Store) GetAudit(_ context.Context, auditID int64) (domain.AuditWithResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[auditID]
	if !ok {
		return domain.AuditWithResults{}, domain.ErrNotFound
	}
	results := append([]domain.AuditResult{}, s.results[auditID]...)
	return domain.AuditWithResults{Audit: a, Results: results}, nil
}

func (s *Store) GetAuditsByUser(_ context.Context, userID string) ([]domain.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Audit{}
	for _, a := range s.audits {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteAudit(_ context.Context, auditID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[auditID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.results, auditID)
	kept := s.jobs[:0]
	for _, j := range s.jobs {
		if j.auditID != auditID {
			kept = append(kept, j)
		}
	}
	s.jobs = kept
	delete(s.audits, auditID)
	return nil
}

func (s *Store) FailStaleProcessing(_ context.Context, cutoff time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var ids []int64
	for id, a := range s.audits {
		if a.Status != domain.StatusProcessing || a.StartedAt == nil || !a.StartedAt.Before(cutoff) {
			continue
		}
		a.Status = domain.StatusFailed
		a.FinishedAt = &now
		s.audits[id] = a
		for _, j := range s.jobs {
			if j.auditID == id && j.status == "running" {
				j.status = "failed"
				j.reason = "stale: worker lost"
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Jobs

func (s *Store) EnqueueAudit(_ context.Context, auditID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[auditID]; !ok {
		return "", domain.ErrNotFound
	}
	s.nextJob++
	j := &job{id: strconv.FormatInt(s.nextJob, 10), auditID: auditID, status: "queued"}
	s.jobs = append(s.jobs, j)
	return j.id, nil
}

func (s *Store) ClaimNext(_ context.Context, workerID string) (ports.AuditJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.status == "queued" {
			j.status = "running"
			j.workerID = workerID
			return ports.AuditJob{ID: j.id, AuditID: j.auditID}, true, nil
		}
	}
	return ports.AuditJob{}, false, nil
}

func (s *Store) StartJobForAudit(_ context.Context, auditID int64, workerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.auditID == auditID && j.status == "queued" {
			j.status = "running"
			j.workerID = workerID
			return j.id, nil
		}
	}
	return "", domain.ErrNotFound
}

func (s *Store) MarkCompleted(_ context.Context, jobID string) error {
	return s.settle(jobID, "completed", "")
}

func (s *Store) MarkFailed(_ context.Context, jobID string, reason string) error {
	return s.settle(jobID, "failed", reason)
}

func (s *Store) RequeueJob(_ context.Context, jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.id == jobID {
			if j.status != "running" {
				return domain.ErrNotFound
			}
			j.status = "queued"
			j.workerID = ""
			j.reason = reason
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *Store) settle(jobID, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.id == jobID {
			j.status = status
			j.reason = reason
			return nil
		}
	}
	return domain.ErrNotFound
}

// JobStatus exposes a job's state for tests and diagnostics.
func (s *Store) JobStatus(jobID string) (status string, reason string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.id == jobID {
			return j.status, j.reason, true
		}
	}
	return "", "", false
}
