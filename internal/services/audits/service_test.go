package audits

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"siteaudit/internal/adapters/memory"
	"siteaudit/internal/domain"
	"siteaudit/internal/ports"
	"siteaudit/internal/services/analyzer"
	"siteaudit/internal/workers/auditrunner"
)

func validInput() domain.NewAudit {
	return domain.NewAudit{
		URL:            "https://example.com",
		BusinessName:   "Acme Plumbing",
		PrimaryService: "Emergency plumbing",
		TargetCity:     "Springfield",
	}
}

func TestValidate(t *testing.T) {
	in := validInput()
	in.BusinessName = "  Acme Plumbing  "
	blank := "   "
	in.GmbURL = &blank
	out, err := Validate(in)
	require.NoError(t, err)
	require.Equal(t, "Acme Plumbing", out.BusinessName)
	require.Nil(t, out.GmbURL)

	cases := []struct {
		field  string
		mutate func(*domain.NewAudit)
	}{
		{"url", func(a *domain.NewAudit) { a.URL = "" }},
		{"url", func(a *domain.NewAudit) { a.URL = "example.com" }},
		{"url", func(a *domain.NewAudit) { a.URL = "ftp://example.com" }},
		{"businessName", func(a *domain.NewAudit) { a.BusinessName = " " }},
		{"primaryService", func(a *domain.NewAudit) { a.PrimaryService = "" }},
		{"targetCity", func(a *domain.NewAudit) { a.TargetCity = "" }},
		{"gmbUrl", func(a *domain.NewAudit) { bad := "not a url"; a.GmbURL = &bad }},
	}
	for _, c := range cases {
		in := validInput()
		c.mutate(&in)
		_, err := Validate(in)
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Equal(t, c.field, vErr.Field)
	}
}

func TestCreateRejectsInvalidInputWithoutStoring(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	in := validInput()
	in.TargetCity = ""

	_, err := svc.Create(context.Background(), "user-a", in)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)

	list, err := svc.List(context.Background(), "user-a")
	require.NoError(t, err)
	require.Empty(t, list)
}

type failingJobs struct{ ports.JobRepository }

func (failingJobs) EnqueueAudit(context.Context, int64) (string, error) {
	return "", errors.New("queue unavailable")
}

func TestCreateWithdrawsAuditWhenQueueingFails(t *testing.T) {
	store := memory.New()
	svc := New(store, failingJobs{store}, nil)

	_, err := svc.Create(context.Background(), "user-a", validInput())
	require.ErrorContains(t, err, "queue unavailable")

	// never started, so it is gone rather than failed
	list, err := svc.List(context.Background(), "user-a")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, store, nil)

	a, err := svc.Create(ctx, "user-a", validInput())
	require.NoError(t, err)

	_, err = svc.Get(ctx, "user-b", a.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.ErrorIs(t, svc.Delete(ctx, "user-b", a.ID), domain.ErrForbidden)

	list, err := svc.List(ctx, "user-b")
	require.NoError(t, err)
	require.Empty(t, list)

	got, err := svc.Get(ctx, "user-a", a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, store, nil)

	a, err := svc.Create(ctx, "user-a", validInput())
	require.NoError(t, err)
	_, err = store.AddAuditResult(ctx, a.ID, domain.ModuleSEO, 50, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "user-a", a.ID))
	_, err = svc.Get(ctx, "user-a", a.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, "user-a", a.ID), domain.ErrNotFound)
}

type siteFetcher struct{}

func (siteFetcher) Fetch(_ context.Context, _, businessName, city string) string {
	return "<html><head><title>" + businessName + "</title></head><body><p>Plumbing in " + city + ".</p></body></html>"
}

// categoryModel answers with a fixed score per category, keyed on the prompt.
type categoryModel struct{}

func (categoryModel) Complete(_ context.Context, _, user string) (string, error) {
	switch {
	case strings.Contains(user, "for SEO"):
		return `{"score": 72, "findings": [{"severity": "critical", "issue": "No H1", "recommendation": "Add an H1"}]}`, nil
	case strings.Contains(user, "AEO"):
		return `{"score": 65, "findings": []}`, nil
	case strings.Contains(user, "GEO"):
		return `{"score": 58}`, nil
	default:
		return `{"score": 81, "findings": [{"severity": "low", "issue": "Few reviews", "recommendation": "Ask for reviews"}]}`, nil
	}
}

func TestEndToEndAuditReachesCompleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	svc := New(store, store, nil)
	pipeline := auditrunner.Pipeline{
		Repo:     store,
		Fetcher:  siteFetcher{},
		Analyzer: analyzer.New(categoryModel{}, analyzer.Options{}, nil),
	}

	a, err := svc.Create(ctx, "user-a", validInput())
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, a.Status)

	first, err := svc.Get(ctx, "user-a", a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, first.Status)

	go auditrunner.Run(ctx, store, pipeline, 1, 5*time.Millisecond, nil)

	var got domain.AuditWithResults
	require.Eventually(t, func() bool {
		got, err = svc.Get(ctx, "user-a", a.ID)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, domain.StatusCompleted, got.Status)
	require.Len(t, got.Results, 4)
	sum := 0
	modules := map[domain.Module]bool{}
	for _, r := range got.Results {
		modules[r.Module] = true
		sum += r.Score
	}
	require.Equal(t, map[domain.Module]bool{domain.ModuleSEO: true, domain.ModuleAEO: true, domain.ModuleGEO: true, domain.ModuleGMB: true}, modules)
	require.Equal(t, auditrunner.Aggregate(intp(72), intp(65), intp(58), intp(81)), got.OverallScore)
	require.Equal(t, 69, got.OverallScore) // 276/4
	require.Equal(t, 276, sum)
}

func intp(v int) *int { return &v }
