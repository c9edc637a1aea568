package driver

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"kiln/internal/bytecode"
	"kiln/internal/compiler"
	"kiln/internal/config"
	"kiln/internal/storage"
)

// Result summarizes one batch run.
type Result struct {
	Total    int
	Compiled int
	Skipped  map[string]int // not-compiled classification -> count
	Elapsed  time.Duration
}

// Options configures a batch run beyond the compiler options themselves.
type Options struct {
	Jobs     int
	OutDir   string
	Sink     ProgressSink
	Log      io.Writer
	Resolver bool // summarize image bodies for the inliner
}

// CompileImage compiles every method of an image ahead-of-time. Individual
// not-compiled classifications are expected outcomes, not errors; only
// infrastructure failures (storage, image decode) abort the batch.
func CompileImage(ctx context.Context, imagePath string, opts *config.Options, dopts Options) (*Result, error) {
	sink := dopts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	log := dopts.Log
	if log == nil {
		log = io.Discard
	}

	start := time.Now()
	sink.OnEvent(Event{Stage: StageCompile, Status: StatusWorking})

	im, err := bytecode.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}
	units := im.Units(opts.ISA)

	store, err := storage.Open(dopts.OutDir)
	if err != nil {
		return nil, err
	}

	var resolver *bytecode.ImageResolver
	if dopts.Resolver {
		resolver = bytecode.NewImageResolver(im)
	}
	comp, err := compiler.New(compiler.Params{
		Options:  opts,
		Storage:  store,
		Resolver: resolver,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}
	defer comp.Close()

	for _, u := range units {
		sink.OnEvent(Event{Method: u.Name, Stage: StageQueued, Status: StatusQueued})
	}

	jobs := dopts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	if jobs > len(units) && len(units) > 0 {
		jobs = len(units)
	}

	type outcome struct {
		reason compiler.Reason
	}
	outcomes := make([]outcome, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, u := range units {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			began := time.Now()
			sink.OnEvent(Event{Method: u.Name, Stage: StageCompile, Status: StatusWorking})
			_, reason := comp.Compile(u)
			outcomes[i] = outcome{reason: reason}
			ev := Event{Method: u.Name, Stage: StageStore, Elapsed: time.Since(began)}
			if reason == compiler.Compiled {
				ev.Status = StatusDone
			} else {
				ev.Status = StatusSkipped
				ev.Reason = reason.String()
			}
			sink.OnEvent(ev)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Total:   len(units),
		Skipped: map[string]int{},
		Elapsed: time.Since(start),
	}
	for _, o := range outcomes {
		if o.reason == compiler.Compiled {
			res.Compiled++
		} else {
			res.Skipped[o.reason.String()]++
		}
	}
	sink.OnEvent(Event{Stage: StageStore, Status: StatusDone, Elapsed: res.Elapsed})

	methods, buffers, hits := store.Counts()
	fmt.Fprintf(log, "stored %d methods, %d unique buffers, %d dedup hits\n", methods, buffers, hits)
	return res, nil
}

// MethodNames lists an image's method names in file order, for front-ends
// that pre-populate their display.
func MethodNames(imagePath string) ([]string, error) {
	im, err := bytecode.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(im.Methods))
	for i := range im.Methods {
		names = append(names, im.Methods[i].Name)
	}
	return names, nil
}
