// Package observ tracks compilation phase timings.
package observ

import (
	"fmt"
	"time"
)

// Phase records the duration of one timed region (an optimization pass or a
// pipeline stage).
type Phase struct {
	Name  string
	Start time.Time
	Dur   time.Duration
}

// Timer tracks the execution time of sequential phases.
// A nil *Timer is valid and records nothing.
type Timer struct {
	label  string
	phases []Phase
}

// NewTimer creates a Timer labeled with the method or stage it covers.
func NewTimer(label string) *Timer {
	return &Timer{label: label, phases: make([]Phase, 0, 16)}
}

// Begin starts a new phase and returns its index.
func (t *Timer) Begin(name string) int {
	if t == nil {
		return -1
	}
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
	return len(t.phases) - 1
}

// End finishes a phase by its index.
func (t *Timer) End(idx int) {
	if t == nil || idx < 0 || idx >= len(t.phases) {
		return
	}
	p := &t.phases[idx]
	p.Dur = time.Since(p.Start)
}

// Summary returns a human-readable per-phase breakdown.
func (t *Timer) Summary() string {
	if t == nil {
		return ""
	}
	out := fmt.Sprintf("TIMINGS %s\n", t.label)
	var total time.Duration
	for _, p := range t.phases {
		total += p.Dur
		out += fmt.Sprintf("  %-40s %9.3f ms\n", p.Name, millis(p.Dur))
	}
	out += fmt.Sprintf("  %-40s %9.3f ms\n", "total", millis(total))
	return out
}

// PhaseReport is the serializable form of one phase.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
}

// Report aggregates a timer for machine consumption.
type Report struct {
	Label   string        `json:"label,omitempty"`
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

// Report flattens the timer into milliseconds per phase.
func (t *Timer) Report() Report {
	if t == nil || len(t.phases) == 0 {
		return Report{}
	}
	report := Report{Label: t.label, Phases: make([]PhaseReport, len(t.phases))}
	var total time.Duration
	for i, phase := range t.phases {
		total += phase.Dur
		report.Phases[i] = PhaseReport{Name: phase.Name, DurationMS: millis(phase.Dur)}
	}
	report.TotalMS = millis(total)
	return report
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
