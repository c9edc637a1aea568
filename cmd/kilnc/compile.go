package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/config"
	"kiln/internal/driver"
	"kiln/internal/isa"
	"kiln/internal/prof"
)

var (
	compileISA      string
	compileFeatures string
	compileFilter   string
	compileOut      string
	compileJobs     int
	compileInline   bool
	compileUI       string
	compileCPUProf  string
	compileMemProf  string
	compileTrace    string
	compileDumpCFG  string
	compileTimings  bool
	compileStats    bool
	compileRegAlloc string
	compilePasses   []string
)

func init() {
	f := compileCmd.Flags()
	f.StringVar(&compileISA, "isa", "", "target instruction set (arm|thumb2|arm64|x86|x86_64)")
	f.StringVar(&compileFeatures, "features", "", "target CPU feature string")
	f.StringVar(&compileFilter, "filter", "", "compiler filter (speed|space)")
	f.StringVarP(&compileOut, "out", "o", "out", "artifact output directory")
	f.IntVarP(&compileJobs, "jobs", "j", 0, "parallel compile workers (0 = GOMAXPROCS)")
	f.BoolVar(&compileInline, "inline", true, "summarize image bodies for cross-method inlining")
	f.StringVar(&compileUI, "ui", "auto", "progress UI (auto|on|off)")
	f.StringVar(&compileCPUProf, "cpuprofile", "", "write CPU profile to file")
	f.StringVar(&compileMemProf, "memprofile", "", "write heap profile to file")
	f.StringVar(&compileTrace, "trace", "", "write execution trace to file")
	f.StringVar(&compileDumpCFG, "dump-cfg", "", "write CFG dumps to file")
	f.BoolVar(&compileTimings, "timings", false, "print per-pass timings")
	f.BoolVar(&compileStats, "stats", false, "print outcome statistics at exit")
	f.StringVar(&compileRegAlloc, "regalloc", "", "register allocation strategy (linear-scan|greedy-color)")
	f.StringSliceVar(&compilePasses, "run-passes", nil, "override the optimization pass list")
}

var compileCmd = &cobra.Command{
	Use:   "compile <image>",
	Short: "Compile a method image ahead-of-time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := buildOptions()
		if err != nil {
			return err
		}

		sess, err := prof.Start(compileCPUProf, compileTrace, compileMemProf)
		if err != nil {
			return err
		}
		defer sess.Stop()

		useTUI, err := useProgressUI(compileUI)
		if err != nil {
			return err
		}

		dopts := driver.Options{
			Jobs:     compileJobs,
			OutDir:   compileOut,
			Resolver: compileInline,
			Log:      cmd.ErrOrStderr(),
		}

		var res *driver.Result
		if useTUI {
			res, err = runCompileWithUI(cmd.Context(), args[0], &opts, dopts)
		} else {
			res, err = driver.CompileImage(cmd.Context(), args[0], &opts, dopts)
		}
		if err != nil {
			return err
		}

		if err := sess.Stop(); err != nil {
			return err
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "compiled %d/%d methods in %s\n",
				res.Compiled, res.Total, res.Elapsed.Round(time.Millisecond))
			for reason, n := range res.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "  skipped %d (%s)\n", n, reason)
			}
		}
		return nil
	},
}

// buildOptions merges the kiln.toml manifest (when present) with flags;
// flags win.
func buildOptions() (config.Options, error) {
	var opts config.Options
	if path, ok, err := config.FindManifest("."); err != nil {
		return opts, err
	} else if ok {
		opts, err = config.LoadManifest(path)
		if err != nil {
			return opts, err
		}
	}

	if compileISA != "" {
		set, err := isa.Parse(compileISA)
		if err != nil {
			return opts, err
		}
		opts.ISA = set
		opts.Features = isa.Features{Set: set, String: compileFeatures}
	}
	if opts.ISA == isa.None {
		return opts, fmt.Errorf("no target instruction set: pass --isa or add one to kiln.toml")
	}
	switch compileFilter {
	case "":
	case "speed":
		opts.Filter = config.FilterSpeed
	case "space":
		opts.Filter = config.FilterSpace
	default:
		return opts, fmt.Errorf("unknown filter %q (expected speed|space)", compileFilter)
	}
	if compileDumpCFG != "" {
		opts.DumpCFGPath = compileDumpCFG
	}
	if compileTimings {
		opts.DumpPassTimings = true
	}
	if compileStats {
		opts.DumpStats = true
	}
	if compileRegAlloc != "" {
		opts.RegAllocStrategy = compileRegAlloc
	}
	if len(compilePasses) > 0 {
		opts.PassesToRun = compilePasses
	}
	return opts, nil
}

// useProgressUI interprets the --ui flag; "auto" keys off stdout being a
// terminal, so piped output stays plain.
func useProgressUI(value string) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return isTerminal(os.Stdout), nil
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("unknown progress ui %q: expected auto, on or off", value)
}
