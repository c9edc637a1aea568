// Package driver runs batch ahead-of-time compilation over a method image:
// a bounded worker pool of independent per-method compiles sharing one
// storage and one statistics set, with progress events for interactive
// front-ends.
package driver

import "time"

// Stage is the phase a method is in.
type Stage string

const (
	// StageQueued means the method is waiting for a worker.
	StageQueued Stage = "queued"
	// StageCompile covers pipeline, allocation and emission.
	StageCompile Stage = "compile"
	// StageStore covers artifact persistence.
	StageStore Stage = "store"
)

// Status captures progress within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	// StatusSkipped marks an expected not-compiled classification.
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Event reports progress for one method, or for the whole batch when
// Method is empty.
type Event struct {
	Method  string
	Stage   Stage
	Status  Status
	Reason  string
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// nopSink swallows events when no front-end is attached.
type nopSink struct{}

func (nopSink) OnEvent(Event) {}
