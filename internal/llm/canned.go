package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// CannedGenerator produces deterministic offline output for development and
// demos, so the full pipeline can run without an API key. The scheduling
// persona gets a parseable booking payload; everything else gets a short
// placeholder paragraph.
type CannedGenerator struct {
	calls atomic.Int64
}

// NewCannedGenerator returns a generator that never fails.
func NewCannedGenerator() *CannedGenerator {
	return &CannedGenerator{}
}

// Calls reports how many generations have been served.
func (g *CannedGenerator) Calls() int64 { return g.calls.Load() }

func (g *CannedGenerator) Generate(_ context.Context, persona, instruction string) (string, error) {
	n := g.calls.Add(1)
	if strings.Contains(persona, "Scheduling Agent") {
		return `{
  "preferred_date": "2026-09-07",
  "preferred_time_window": "morning",
  "workshop_type": "authorized_service_center",
  "notes": "Canned booking generated in offline mode."
}`, nil
	}
	role := "assistant"
	if i := strings.Index(persona, "You are the "); i >= 0 {
		rest := persona[i+len("You are the "):]
		if j := strings.IndexByte(rest, '.'); j > 0 {
			role = rest[:j]
		}
	}
	return fmt.Sprintf("[offline %s output #%d] %s", role, n, firstLine(instruction)), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
