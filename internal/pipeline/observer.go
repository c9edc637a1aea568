// Package pipeline orders and executes optimization passes over one graph.
// It owns the dependency-based skipping rule, the per-pass observation
// harness, and the curated pass lists per compilation tier and target.
package pipeline

import (
	"fmt"
	"io"
	"strings"

	"kiln/internal/config"
	"kiln/internal/ir"
	"kiln/internal/observ"
	"kiln/internal/viz"
)

// Observer wraps every pass execution of one compile: timing, CFG dumps,
// and (in debug builds) structural revalidation. It observes only — it
// never mutates the graph.
type Observer struct {
	graph *ir.Graph
	sink  *viz.Sink
	timer *observ.Timer
	log   io.Writer

	timingEnabled bool
	vizEnabled    bool

	lastSeenSize int
	graphBad     bool
}

// NewObserver builds the harness for one graph. Timing and visualization
// are additionally gated by the verbose-method filter; both may end up
// disabled even when requested globally.
func NewObserver(g *ir.Graph, sink *viz.Sink, opts *config.Options, log io.Writer) *Observer {
	o := &Observer{
		graph:         g,
		sink:          sink,
		log:           log,
		timingEnabled: opts.DumpPassTimings,
		vizEnabled:    sink != nil && opts.DumpCFGPath != "",
		lastSeenSize:  g.CurrentInstrID(),
	}
	if o.timingEnabled || o.vizEnabled {
		if !isVerboseMethod(opts, g.Method) {
			o.timingEnabled = false
			o.vizEnabled = false
		}
	}
	if o.timingEnabled {
		o.timer = observ.NewTimer(g.Method)
	}
	if o.vizEnabled {
		o.sink.BeginMethod(g.Method)
	}
	return o
}

// isVerboseMethod decides whether diagnostics fire for this method. An
// exact-match allow-list, when configured, overrides the substring filter
// entirely — including its empty-matches-all behavior.
func isVerboseMethod(opts *config.Options, name string) bool {
	if opts.HasVerboseMethods() {
		return opts.IsVerboseMethod(name)
	}
	return opts.MethodFilter == "" || strings.Contains(name, opts.MethodFilter)
}

// Close flushes timing output and closes the method's dump section.
// Must be called exactly once, on every exit path.
func (o *Observer) Close() {
	if o.timingEnabled && o.log != nil {
		fmt.Fprint(o.log, o.timer.Summary())
	}
	if o.vizEnabled {
		o.sink.EndMethod()
	}
}

// MarkGraphBad suppresses further validation after an unrecoverable
// failure left the graph in a state that is not expected to validate.
func (o *Observer) MarkGraphBad() { o.graphBad = true }

// PassScope is one pass execution window. Begin and End are symmetric on
// every path; End runs the debug-build checker.
type PassScope struct {
	o    *Observer
	name string
	tidx int
}

// BeginPass opens a scope: dump graph first, then start the timer.
func (o *Observer) BeginPass(name string) *PassScope {
	if o.vizEnabled {
		o.sink.DumpGraph(o.graph, name, false)
	}
	s := &PassScope{o: o, name: name, tidx: -1}
	if o.timingEnabled {
		s.tidx = o.timer.Begin(name)
	}
	return s
}

// End closes the scope: stop the timer, dump the graph, revalidate.
// changed is what the pass reported.
func (s *PassScope) End(changed bool) {
	o := s.o
	if o.timingEnabled {
		o.timer.End(s.tidx)
	}
	if o.vizEnabled {
		o.sink.DumpGraph(o.graph, s.name, true)
	}
	if debugChecks && !o.graphBad {
		size, err := ir.NewChecker(o.graph, o.lastSeenSize).Run(changed)
		o.lastSeenSize = size
		if err != nil {
			var sb strings.Builder
			ir.Dump(&sb, o.graph)
			panic(fmt.Sprintf("invalid graph after %s (%s): %v\n%s",
				s.name, o.graph.Method, err, sb.String()))
		}
	}
}
