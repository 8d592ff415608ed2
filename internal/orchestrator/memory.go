package orchestrator

import (
	"strings"
)

const (
	summaryMaxChars  = 2000
	summaryLineChars = 200
	noPriorContext   = "No prior context."
)

// SummaryMemory maintains the rolling conversation summary. It is seeded
// with the previously persisted summary before the new turn is appended, so
// the refreshed summary always extends what earlier cycles recorded.
type SummaryMemory struct {
	lines []string
}

// NewSummaryMemory seeds the memory with the prior summary. An empty or
// placeholder prior yields a fresh memory.
func NewSummaryMemory(prior string) *SummaryMemory {
	m := &SummaryMemory{}
	prior = strings.TrimSpace(prior)
	if prior == "" || prior == noPriorContext {
		return m
	}
	for _, line := range strings.Split(prior, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			m.lines = append(m.lines, line)
		}
	}
	return m
}

// AppendTurn records one completed user/bot exchange.
func (m *SummaryMemory) AppendTurn(userText, botText string) {
	m.lines = append(m.lines,
		"User: "+clip(userText, summaryLineChars),
		"Bot: "+clip(botText, summaryLineChars),
	)
}

// Summary renders the rolling summary, dropping the oldest lines when the
// budget is exceeded.
func (m *SummaryMemory) Summary() string {
	total := 0
	start := len(m.lines)
	for i := len(m.lines) - 1; i >= 0; i-- {
		total += len(m.lines[i]) + 1
		if total > summaryMaxChars {
			break
		}
		start = i
	}
	return strings.Join(m.lines[start:], "\n")
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
