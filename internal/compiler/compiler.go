// Package compiler is the top-level orchestrator: it decides per method
// whether and how to compile, drives the pipeline, register allocation and
// emission, and packages the result for ahead-of-time storage or the JIT
// code cache. A method not being compiled is a normal terminal state here,
// never an error.
package compiler

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"kiln/internal/arena"
	"kiln/internal/bytecode"
	"kiln/internal/codegen"
	"kiln/internal/config"
	"kiln/internal/ir"
	"kiln/internal/isa"
	"kiln/internal/jitcache"
	"kiln/internal/method"
	"kiln/internal/passes"
	"kiln/internal/pipeline"
	"kiln/internal/regalloc"
	"kiln/internal/stats"
	"kiln/internal/storage"
	"kiln/internal/viz"
)

// Reason classifies why a method was or was not compiled.
type Reason uint8

const (
	Compiled Reason = iota
	NotCompiledUnsupportedIsa
	NotCompiledPathological
	NotCompiledSpaceFilter
	NotCompiledInvalidBytecode
	NotCompiledNoCodegen
	NotCompiledUnresolvedMethod
	NotCompiledCacheFull
	NotCompiledCommitRejected
)

var reasonNames = [...]string{
	Compiled:                    "compiled",
	NotCompiledUnsupportedIsa:   "unsupported_isa",
	NotCompiledPathological:     "pathological",
	NotCompiledSpaceFilter:      "space_filter",
	NotCompiledInvalidBytecode:  "invalid_bytecode",
	NotCompiledNoCodegen:        "no_codegen",
	NotCompiledUnresolvedMethod: "unresolved_method",
	NotCompiledCacheFull:        "cache_full",
	NotCompiledCommitRejected:   "commit_rejected",
}

// String returns the classification name.
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// pathologicalCodeUnits is the cheap structural ceiling: bodies above it
// are rejected before any graph is built.
const pathologicalCodeUnits = 128 * 1024

// maxVirtualRegisters is the encoding limit of the portable bytecode.
const maxVirtualRegisters = 256

// arenaReportThreshold triggers a memory report for unusually large
// compiles.
const arenaReportThreshold = 8 << 20

// compileMarker tags methods that tests expect to be compiled; checked
// builds assert on it when the option is set.
const compileMarker = "$opt$"

// Compiler is one back-end instance. Safe for concurrent Compile and
// JitCompile calls from independent workers; all shared state it owns is
// internally synchronized.
type Compiler struct {
	opts     *config.Options
	pool     *arena.Pool
	builder  *bytecode.Builder
	resolver passes.Resolver
	store    *storage.Storage
	cache    *jitcache.Cache
	counters *stats.Counters
	sink     *viz.Sink
	log      io.Writer

	closeOnce sync.Once
}

// Params carries the collaborators a Compiler binds at construction.
type Params struct {
	Options  *config.Options
	Storage  *storage.Storage
	Cache    *jitcache.Cache
	Resolver passes.Resolver
	// Counters may be shared with the code cache; nil means a private set.
	// A cache constructed without its own counters adopts the compiler's,
	// so its outcomes land in the same statistics either way.
	Counters *stats.Counters
	Log      io.Writer
}

// New builds a compiler and, when configured, opens the CFG dump sink with
// its target banner.
func New(p Params) (*Compiler, error) {
	c := &Compiler{
		opts:     p.Options,
		pool:     arena.NewPool(),
		builder:  bytecode.NewBuilder(),
		resolver: p.Resolver,
		store:    p.Storage,
		cache:    p.Cache,
		counters: p.Counters,
		log:      p.Log,
	}
	if c.counters == nil {
		c.counters = stats.New()
	}
	if c.cache != nil {
		c.cache.AdoptCounters(c.counters)
	}
	if c.log == nil {
		c.log = io.Discard
	}
	if c.opts.DumpCFGPath != "" {
		sink, err := viz.Open(c.opts.DumpCFGPath, c.opts.DumpCFGAppend)
		if err != nil {
			return nil, fmt.Errorf("open cfg dump: %w", err)
		}
		sink.WriteHeader(c.opts.ISA.String(), c.opts.Features.String)
		c.sink = sink
	}
	return c, nil
}

// Counters exposes the outcome statistics.
func (c *Compiler) Counters() *stats.Counters { return c.counters }

// Close flushes statistics and the dump sink. Idempotent.
func (c *Compiler) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.opts.DumpStats {
			fmt.Fprintf(c.log, "compilation statistics:\n")
			c.counters.Dump(c.log)
		}
		if c.sink != nil {
			err = c.sink.Close()
		}
	})
	return err
}

// Compile is the ahead-of-time entry point: it produces a stored artifact
// or a not-compiled classification. It never fails the process.
func (c *Compiler) Compile(unit *method.Unit) (*codegen.Artifact, Reason) {
	if unit.IsNative() {
		return c.compileNative(unit)
	}
	art, reason := c.tryCompile(unit, method.KindOptimized, nil)
	c.assertMarkedCompiled(unit.Name, reason)
	if reason != Compiled {
		return nil, reason
	}
	if err := c.store.StoreCompiledMethod(unit.Name, art); err != nil {
		fmt.Fprintf(c.log, "store %s: %v\n", unit.Name, err)
	}
	return art, Compiled
}

// reject records the statistic paired with a rejection reason.
func (c *Compiler) reject(reason Reason) Reason {
	switch reason {
	case NotCompiledUnsupportedIsa:
		c.counters.Record(stats.NotCompiledUnsupportedIsa)
	case NotCompiledPathological:
		c.counters.Record(stats.NotCompiledPathological)
	case NotCompiledSpaceFilter:
		c.counters.Record(stats.NotCompiledSpaceFilter)
	case NotCompiledInvalidBytecode:
		c.counters.Record(stats.NotCompiledInvalidBytecode)
	case NotCompiledNoCodegen:
		c.counters.Record(stats.NotCompiledNoCodegen)
	case NotCompiledUnresolvedMethod:
		c.counters.Record(stats.NotCompiledUnresolvedMethod)
	}
	return reason
}

// tryCompile runs the ordered eligibility ladder, then the pipeline,
// allocation and emission. profile is required for the baseline tier.
func (c *Compiler) tryCompile(unit *method.Unit, kind method.Kind, profile *method.ProfilingInfo) (*codegen.Artifact, Reason) {
	if unit.ISA != c.opts.ISA || !isa.Supported(unit.ISA) {
		return nil, c.reject(NotCompiledUnsupportedIsa)
	}
	// Structural ceiling, before any graph exists.
	if unit.CodeUnits > pathologicalCodeUnits || unit.Registers > maxVirtualRegisters {
		return nil, c.reject(NotCompiledPathological)
	}
	if c.opts.Filter == config.FilterSpace && unit.CodeUnits > config.SpaceFilterThreshold {
		return nil, c.reject(NotCompiledSpaceFilter)
	}

	// Intrinsic fast path: boot-image contexts only, and only when the
	// template survives the post-allocation leaf check.
	if unit.IsIntrinsic() && c.opts.BootImage {
		if art := c.tryCompileIntrinsic(unit); art != nil {
			return art, Compiled
		}
	}

	c.counters.Record(stats.AttemptBytecodeCompilation)

	g := ir.NewGraph(c.pool, unit.Name, unit.ISA, kind)
	defer c.finishGraph(g)
	g.Debuggable = c.opts.Debuggable
	g.DeadReferenceSafe = unit.DeadReferenceSafe && unit.Resolved
	g.Profile = profile

	if err := c.builder.Build(g, unit); err != nil {
		fmt.Fprintf(c.log, "build %s: %v\n", unit.Name, err)
		return nil, c.reject(NotCompiledInvalidBytecode)
	}

	obs := pipeline.NewObserver(g, c.sink, c.opts, c.log)
	defer obs.Close()

	if _, err := pipeline.Run(g, c.opts, passes.Context{Resolver: c.resolver}, obs); err != nil {
		// Only the override pass list can fail; a misconfigured list is a
		// caller defect, not a per-method condition.
		panic(fmt.Sprintf("pass override rejected: %v", err))
	}

	gen, ok := codegen.New(g, c.opts)
	if !ok {
		return nil, c.reject(NotCompiledNoCodegen)
	}

	strategy, err := regalloc.ParseStrategy(c.opts.RegAllocStrategy)
	if err != nil {
		panic(err)
	}
	alloc := regalloc.Run(g, strategy, obs)

	art := c.emit(g, gen, alloc, kind)
	c.counters.Record(stats.CompiledBytecode)
	return art, Compiled
}

// tryCompileIntrinsic builds the template graph and keeps the result only
// when the generated code is leaf. A non-leaf template is discarded and the
// method falls through to the general path.
func (c *Compiler) tryCompileIntrinsic(unit *method.Unit) *codegen.Artifact {
	c.counters.Record(stats.AttemptIntrinsicCompilation)

	g := ir.NewGraph(c.pool, unit.Name, unit.ISA, method.KindOptimized)
	defer c.finishGraph(g)
	g.Debuggable = c.opts.Debuggable
	g.DeadReferenceSafe = unit.DeadReferenceSafe

	if !bytecode.BuildIntrinsicGraph(g, unit.Intrinsic) {
		return nil
	}

	obs := pipeline.NewObserver(g, c.sink, c.opts, c.log)
	defer obs.Close()
	pipeline.RunIntrinsic(g, passes.Context{Resolver: c.resolver}, obs)

	gen, ok := codegen.New(g, c.opts)
	if !ok {
		return nil
	}
	strategy, err := regalloc.ParseStrategy(c.opts.RegAllocStrategy)
	if err != nil {
		panic(err)
	}
	alloc := regalloc.Run(g, strategy, obs)

	art := c.emit(g, gen, alloc, method.KindOptimized)
	if !gen.IsLeafMethod() {
		// The template lowered to code with calls; discard it and let the
		// general path compile the bytecode body.
		return nil
	}
	art.Intrinsic = true
	c.counters.Record(stats.CompiledIntrinsic)
	return art
}

// finishGraph releases the compile arena and reports oversized compiles.
func (c *Compiler) finishGraph(g *ir.Graph) {
	used := g.Arena().BytesAllocated() + g.Scratch().PeakBytesAllocated()
	if used > arenaReportThreshold {
		fmt.Fprintf(c.log, "arena memory for %s: %d bytes\n", g.Method, used)
	}
	g.Destroy()
}

// assertMarkedCompiled enforces the test-method marker contract in checked
// builds: a method carrying the marker must end up compiled.
func (c *Compiler) assertMarkedCompiled(name string, reason Reason) {
	if !pipeline.DebugChecks() || !c.opts.CompileTestMarker {
		return
	}
	if strings.Contains(name, compileMarker) && reason != Compiled {
		panic(fmt.Sprintf("method %s marked for compilation but classified %s", name, reason))
	}
}
