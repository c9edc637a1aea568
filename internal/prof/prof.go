// Package prof captures runtime profiles covering one compile batch: CPU
// samples and an execution trace over the batch, plus a heap snapshot when
// the batch ends.
package prof

import (
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Session owns the profile outputs of one batch. An empty path disables
// the corresponding profile; a nil session is inert.
type Session struct {
	cpu      *os.File
	traceOut *os.File
	heapPath string
}

// Start opens the requested profiles. On error nothing is left active.
func Start(cpuPath, tracePath, heapPath string) (*Session, error) {
	s := &Session{heapPath: heapPath}
	if cpuPath != "" {
		f, err := os.Create(cpuPath)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.cpu = f
	}
	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			s.stopProfiles()
			return nil, err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopProfiles()
			return nil, err
		}
		s.traceOut = f
	}
	return s, nil
}

// Stop ends the active profiles and writes the heap snapshot. Idempotent:
// a second call does nothing.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	s.stopProfiles()
	if s.heapPath == "" {
		return nil
	}
	path := s.heapPath
	s.heapPath = ""

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			panic(closeErr)
		}
	}()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func (s *Session) stopProfiles() {
	if s.cpu != nil {
		pprof.StopCPUProfile()
		_ = s.cpu.Close()
		s.cpu = nil
	}
	if s.traceOut != nil {
		trace.Stop()
		_ = s.traceOut.Close()
		s.traceOut = nil
	}
}
