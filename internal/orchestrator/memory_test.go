package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummaryMemoryFreshStart(t *testing.T) {
	for _, prior := range []string{"", "  ", noPriorContext} {
		m := NewSummaryMemory(prior)
		require.Empty(t, m.Summary())
	}
}

func TestSummaryMemoryExtendsPrior(t *testing.T) {
	m := NewSummaryMemory("User: hi\nBot: hello")
	m.AppendTurn("any widgets?", "yes, plenty")

	summary := m.Summary()
	lines := strings.Split(summary, "\n")
	require.Equal(t, []string{
		"User: hi",
		"Bot: hello",
		"User: any widgets?",
		"Bot: yes, plenty",
	}, lines)
}

func TestSummaryMemoryClipsLongTurns(t *testing.T) {
	m := NewSummaryMemory("")
	m.AppendTurn(strings.Repeat("a", 500), "ok")

	lines := strings.Split(m.Summary(), "\n")
	require.LessOrEqual(t, len(lines[0]), len("User: ")+summaryLineChars+len("…"))
	require.True(t, strings.HasSuffix(lines[0], "…"))
}

func TestSummaryMemoryDropsOldestOverBudget(t *testing.T) {
	m := NewSummaryMemory("")
	for i := 0; i < 50; i++ {
		m.AppendTurn(strings.Repeat("q", 100), strings.Repeat("a", 100))
	}

	summary := m.Summary()
	require.LessOrEqual(t, len(summary), summaryMaxChars+summaryLineChars)

	// The newest turn survives; the oldest does not.
	lines := strings.Split(summary, "\n")
	require.True(t, strings.HasPrefix(lines[len(lines)-1], "Bot: "))
	require.Less(t, len(lines), 100)
}
