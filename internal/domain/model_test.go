package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, false},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, c := range cases {
		require.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestPredecessors(t *testing.T) {
	require.Equal(t, []Status{StatusPending}, Predecessors(StatusProcessing))
	require.Equal(t, []Status{StatusProcessing}, Predecessors(StatusCompleted))
	require.Equal(t, []Status{StatusProcessing}, Predecessors(StatusFailed))
	require.Empty(t, Predecessors(StatusPending))
}

func TestModuleAndSeverityVocabulary(t *testing.T) {
	require.True(t, ModuleLocal.Valid())
	require.False(t, Module("ppc").Valid())
	require.True(t, SeverityWarning.Valid())
	require.False(t, Severity("info").Valid())
}

func TestAnalysisScoreOr(t *testing.T) {
	require.Equal(t, 60, Analysis{}.ScoreOr(60))
	v := 0
	require.Equal(t, 0, Analysis{Score: &v}.ScoreOr(60))
}
