package stage

import "time"

// Kind is the role of a stage.
type Kind string

const (
	SourceKind    Kind = "source"
	TransformKind Kind = "transform"
	CollectorKind Kind = "collector"
	FanoutKind    Kind = "fanout"
	SinkKind      Kind = "sink"
)

// Info describes a stage to observers.
type Info struct {
	Kind Kind
	Name string
}

var (
	// Start is the parent of every source.
	Start = &Info{Name: "start"}
	// End follows every sink.
	End = &Info{Name: "end"}
)

// Stage is the output side of a stage.
type Stage[O any] struct {
	Output chan O
	Info   *Info
}

// Observer is notified of the life of a run. Output and sink hooks are called
// from stage goroutines and must be safe for concurrent use.
type Observer interface {
	// Begin runs when the runner is created.
	Begin() error
	// Prepare runs when a stage is added, before it starts.
	Prepare(parents []*Info, stage *Info) error
	// OnOutput runs every time a stage handled one input value.
	OnOutput(parent, stage *Info, transport, compute time.Duration) error
	// AfterSink runs when a sink has consumed all of its input.
	AfterSink(stage *Info, total time.Duration) error
	// Finish runs after a successful run.
	Finish() error
}

// NopObserver implements every hook as a no-op. Embed it to implement only
// some hooks.
type NopObserver struct{}

func (NopObserver) Begin() error                                              { return nil }
func (NopObserver) Prepare([]*Info, *Info) error                              { return nil }
func (NopObserver) OnOutput(*Info, *Info, time.Duration, time.Duration) error { return nil }
func (NopObserver) AfterSink(*Info, time.Duration) error                      { return nil }
func (NopObserver) Finish() error                                             { return nil }

var _ Observer = NopObserver{}
