package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"kiln/internal/isa"
)

const noKilnTomlMessage = "no kiln.toml found\nplease pass --isa explicitly or run inside a project with a manifest"

// Manifest mirrors the [compiler] table of kiln.toml.
type Manifest struct {
	Compiler compilerConfig `toml:"compiler"`
}

type compilerConfig struct {
	ISA              string   `toml:"isa"`
	Features         string   `toml:"features"`
	Filter           string   `toml:"filter"`
	Debuggable       bool     `toml:"debuggable"`
	DumpCFG          string   `toml:"dump_cfg"`
	DumpCFGAppend    bool     `toml:"dump_cfg_append"`
	DumpPassTimings  bool     `toml:"dump_pass_timings"`
	DumpStats        bool     `toml:"dump_stats"`
	VerboseMethods   []string `toml:"verbose_methods"`
	MethodFilter     string   `toml:"method_filter"`
	Passes           []string `toml:"passes"`
	RegAllocStrategy string   `toml:"regalloc"`
}

// FindManifest walks upward from startDir looking for kiln.toml.
func FindManifest(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "kiln.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// LoadManifest decodes kiln.toml and converts it into Options.
func LoadManifest(path string) (Options, error) {
	var m Manifest
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Options{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Options{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return m.Compiler.toOptions()
}

// LoadManifestFrom finds and loads the manifest starting at startDir.
func LoadManifestFrom(startDir string) (Options, error) {
	path, ok, err := FindManifest(startDir)
	if err != nil {
		return Options{}, err
	}
	if !ok {
		return Options{}, errors.New(noKilnTomlMessage)
	}
	return LoadManifest(path)
}

func (c compilerConfig) toOptions() (Options, error) {
	opts := Options{
		Debuggable:       c.Debuggable,
		DumpCFGPath:      c.DumpCFG,
		DumpCFGAppend:    c.DumpCFGAppend,
		DumpPassTimings:  c.DumpPassTimings,
		DumpStats:        c.DumpStats,
		VerboseMethods:   c.VerboseMethods,
		MethodFilter:     c.MethodFilter,
		RegAllocStrategy: c.RegAllocStrategy,
	}
	if len(c.Passes) > 0 {
		opts.PassesToRun = c.Passes
	}
	if c.ISA != "" {
		set, err := isa.Parse(c.ISA)
		if err != nil {
			return Options{}, err
		}
		opts.ISA = set
		opts.Features = isa.Features{Set: set, String: c.Features}
	}
	switch c.Filter {
	case "", "speed":
		opts.Filter = FilterSpeed
	case "space":
		opts.Filter = FilterSpace
	default:
		return Options{}, fmt.Errorf("unknown compiler filter: %q (expected: speed|space)", c.Filter)
	}
	return opts, nil
}
