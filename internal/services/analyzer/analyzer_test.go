package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"siteaudit/internal/domain"
)

type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	systems   []string
	users     []string
}

func (m *scriptedModel) Complete(_ context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systems = append(m.systems, system)
	m.users = append(m.users, user)
	var resp string
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	if len(m.responses) > 0 {
		resp, m.responses = m.responses[0], m.responses[1:]
	}
	return resp, err
}

func requireFallback(t *testing.T, a domain.Analysis) {
	t.Helper()
	require.NotNil(t, a.Score)
	require.Equal(t, 50, *a.Score)
	require.Len(t, a.Findings, 1)
	require.Equal(t, domain.SeverityMedium, a.Findings[0].Severity)
}

func TestAnalyzeParsesModelResponse(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"score": 82, "findings": [
		{"severity": "critical", "issue": "Missing H1", "recommendation": "Add one H1"},
		{"type": "LOW", "message": "Short title", "fix": "Lengthen the title"}
	]}`}}
	s := New(model, Options{}, nil)

	a := s.Analyze(context.Background(), "page body", domain.ModuleSEO)
	require.Equal(t, 82, *a.Score)
	require.Equal(t, []domain.Finding{
		{Severity: domain.SeverityCritical, Issue: "Missing H1", Recommendation: "Add one H1"},
		{Severity: domain.SeverityLow, Issue: "Short title", Recommendation: "Lengthen the title"},
	}, a.Findings)

	require.Equal(t, systemPrompt, model.systems[0])
	require.True(t, strings.HasPrefix(model.users[0], categoryPrompts[domain.ModuleSEO]))
	require.True(t, strings.HasSuffix(model.users[0], "Content Preview:\npage body"))
}

func TestAnalyzeEachCategoryHasDistinctPrompt(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range domain.AnalyzedModules {
		model := &scriptedModel{responses: []string{`{"score":70,"findings":[]}`}}
		a := New(model, Options{}, nil).Analyze(context.Background(), "x", m)
		require.Equal(t, 70, *a.Score)
		require.False(t, seen[model.users[0]], m)
		seen[model.users[0]] = true
	}
	require.Contains(t, categoryPrompts[domain.ModuleGEO], "E-E-A-T")
	require.Contains(t, categoryPrompts[domain.ModuleAEO], "FAQ")
}

func TestAnalyzeFallsBackOnModelError(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("503"), errors.New("503")}}
	s := New(model, Options{MaxAttempts: 2, RetryDelay: time.Millisecond}, nil)

	requireFallback(t, s.Analyze(context.Background(), "x", domain.ModuleAEO))
	require.Len(t, model.users, 2)
}

func TestAnalyzeRetriesThenSucceeds(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("timeout")}, responses: []string{"", `{"score":61}`}}
	s := New(model, Options{MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)

	a := s.Analyze(context.Background(), "x", domain.ModuleGEO)
	require.Equal(t, 61, *a.Score)
	require.Empty(t, a.Findings)
	require.Len(t, model.users, 2)
}

func TestAnalyzeFallsBackOnUnparsableText(t *testing.T) {
	for _, raw := range []string{"I think the score is 80.", "", "null", "[1,2,3]", `"just a string"`} {
		s := New(&scriptedModel{responses: []string{raw}}, Options{}, nil)
		requireFallback(t, s.Analyze(context.Background(), "x", domain.ModuleGMB))
	}
}

func TestAnalyzeUnknownModuleFallsBack(t *testing.T) {
	model := &scriptedModel{}
	requireFallback(t, New(model, Options{}, nil).Analyze(context.Background(), "x", domain.ModuleLocal))
	require.Empty(t, model.users)
}

func TestAnalyzeTruncatesExcerpt(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"score":1}`}}
	s := New(model, Options{ExcerptLimit: 10}, nil)
	s.Analyze(context.Background(), strings.Repeat("é", 25), domain.ModuleSEO)
	require.True(t, strings.HasSuffix(model.users[0], "Content Preview:\n"+strings.Repeat("é", 10)))
}

func TestAnalyzeDefaultExcerptLimit(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"score":1}`}}
	New(model, Options{}, nil).Analyze(context.Background(), strings.Repeat("a", 6000), domain.ModuleSEO)
	require.True(t, strings.HasSuffix(model.users[0], "\n"+strings.Repeat("a", 5000)))
	require.False(t, strings.HasSuffix(model.users[0], strings.Repeat("a", 5001)))
}

func TestParseCoercesShapeDrift(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantScore *int
		findings  int
	}{
		{"fenced", "```json\n{\"score\": 40, \"findings\": []}\n```", intPtr(40), 0},
		{"fenced without newline before close", "```\n{\"score\": 41}```", intPtr(41), 0},
		{"prose around object", "Here is the audit:\n{\"score\": 66, \"findings\": [{\"issue\": \"a\"}]}\nHope this helps.", intPtr(66), 1},
		{"fenced inside prose", "Sure.\n```json\n{\"score\": 12}\n```", intPtr(12), 0},
		{"string score", `{"score": "73.6"}`, intPtr(74), 0},
		{"clamped high", `{"score": 140}`, intPtr(100), 0},
		{"clamped low", `{"score": -3}`, intPtr(0), 0},
		{"missing score", `{"findings": [{"issue": "a"}]}`, nil, 1},
		{"bool score", `{"score": true}`, nil, 0},
		{"findings not a list", `{"score": 10, "findings": {"issue": "a"}}`, intPtr(10), 0},
		{"findings with junk", `{"score": 10, "findings": ["text", 3, {"issue": "a"}, {}]}`, intPtr(10), 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a, err := parse(c.raw)
			require.NoError(t, err)
			require.Equal(t, c.wantScore, a.Score)
			require.Len(t, a.Findings, c.findings)
			require.NotNil(t, a.Findings)
		})
	}
}

func TestCoerceSeverity(t *testing.T) {
	require.Equal(t, domain.SeverityCritical, coerceSeverity("Critical"))
	require.Equal(t, domain.SeverityCritical, coerceSeverity("high"))
	require.Equal(t, domain.SeverityWarning, coerceSeverity("warning"))
	require.Equal(t, domain.SeverityLow, coerceSeverity("info"))
	require.Equal(t, domain.SeverityMedium, coerceSeverity(""))
	require.Equal(t, domain.SeverityMedium, coerceSeverity("urgent"))
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func intPtr(v int) *int { return &v }

func TestParseRejectsReplyWithoutObject(t *testing.T) {
	_, err := parse("I cannot audit this page.")
	require.Error(t, err)
	_, err = parse("null")
	require.Error(t, err)
}

type statusErr struct{ temporary bool }

func (e statusErr) Error() string   { return "provider said no" }
func (e statusErr) Temporary() bool { return e.temporary }

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return fmt.Errorf("completion: %w", statusErr{temporary: false})
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)

	calls = 0
	err = retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return statusErr{temporary: true}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestAnalyzeDoesNotRetryRejectedKey(t *testing.T) {
	model := &scriptedModel{errs: []error{statusErr{}, statusErr{}}}
	a := New(model, Options{MaxAttempts: 2, RetryDelay: time.Millisecond}, nil).Analyze(context.Background(), "x", domain.ModuleAEO)
	requireFallback(t, a)
	require.Len(t, model.users, 1)
}
