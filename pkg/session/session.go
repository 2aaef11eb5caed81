// Package session owns one loaded pipeline and the engine runtime behind it.
// A Session is not safe for concurrent use: run one Session per concurrent
// pipeline run.
package session

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/askiada/pipedriver/pkg/binding"
	"github.com/askiada/pipedriver/pkg/qname"
	"github.com/askiada/pipedriver/pkg/serialization"
	"github.com/askiada/pipedriver/pkg/xproc"
)

// Session wraps one pipeline instance.
type Session struct {
	runtime  xproc.Runtime
	pipeline xproc.Pipeline

	stdin   io.Reader
	stdout  io.Writer
	logger  zerolog.Logger
	globals map[string]string

	ran    bool
	closed bool
}

// Option configures a Session.
type Option func(s *Session)

// WithStdin sets the reader used for the implicit input and the URI "-".
func WithStdin(r io.Reader) Option {
	return func(s *Session) {
		s.stdin = r
	}
}

// WithStdout sets the writer behind the standard output sink.
func WithStdout(w io.Writer) Option {
	return func(s *Session) {
		s.stdout = w
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithSerializationDefaults sets the global serialization options applied to
// ports that declare no serialization of their own.
func WithSerializationDefaults(globals map[string]string) Option {
	return func(s *Session) {
		s.globals = globals
	}
}

// Open creates a runtime from engine and loads the pipeline at source. The
// runtime is closed again when loading fails.
func Open(ctx context.Context, engine xproc.Engine, source string, opts ...Option) (*Session, error) {
	if source == "" {
		return nil, &UnsupportedOperationError{Op: "run without a pipeline source"}
	}

	rt, err := engine.NewRuntime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create runtime")
	}

	p, err := rt.Load(ctx, source)
	if err != nil {
		if cerr := rt.Close(); cerr != nil {
			zerolog.Ctx(ctx).Warn().Err(cerr).Msg("unable to close runtime")
		}

		return nil, errors.Wrapf(err, "unable to load pipeline %s", source)
	}

	return New(rt, p, opts...)
}

// New wraps an already loaded pipeline. The session takes ownership of rt.
func New(rt xproc.Runtime, p xproc.Pipeline, opts ...Option) (*Session, error) {
	if rt == nil {
		return nil, ErrNoRuntime
	}

	if p == nil {
		return nil, ErrNoPipeline
	}

	s := &Session{
		runtime:  rt,
		pipeline: p,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Session) Inputs() []xproc.Port {
	return s.pipeline.Inputs()
}

func (s *Session) Outputs() []xproc.Port {
	return s.pipeline.Outputs()
}

// PrimaryInputPort returns the primary non-parameter input port.
func (s *Session) PrimaryInputPort() (string, bool) {
	return xproc.PrimaryInput(s.pipeline.Inputs())
}

// PrimaryOutputPort returns the primary output port.
func (s *Session) PrimaryOutputPort() (string, bool) {
	return xproc.PrimaryOutput(s.pipeline.Outputs())
}

// SetParameter sets a parameter on port. An empty port or the wildcard
// targets the primary parameter port.
func (s *Session) SetParameter(port string, name qname.QName, value string) error {
	if s.closed {
		return ErrClosed
	}

	if port == binding.WildcardPort {
		port = ""
	}

	err := s.pipeline.SetParameter(port, name, value)
	if err != nil {
		return errors.Wrapf(err, "unable to set parameter %s", name)
	}

	return nil
}

// SetParameters applies every parameter of params. Wildcard parameters are
// applied before those of named ports, so a named port wins over the wildcard
// for the same name.
func (s *Session) SetParameters(params binding.Params) error {
	for _, port := range params.Ports() {
		for _, name := range params.Names(port) {
			err := s.SetParameter(port, name, params[port][name])
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Session) PassOption(name qname.QName, value string) error {
	if s.closed {
		return ErrClosed
	}

	err := s.pipeline.PassOption(name, value)
	if err != nil {
		return errors.Wrapf(err, "unable to pass option %s", name)
	}

	return nil
}

// PassOptions applies every option of opts.
func (s *Session) PassOptions(opts binding.Options) error {
	for name, value := range opts {
		err := s.PassOption(name, value)
		if err != nil {
			return err
		}
	}

	return nil
}

// ClearInputs drops every document bound to port, defaults included.
func (s *Session) ClearInputs(port string) error {
	if s.closed {
		return ErrClosed
	}

	s.pipeline.ClearInputs(port)

	return nil
}

// WriteDocument appends doc to port.
func (s *Session) WriteDocument(port string, doc xproc.Document) error {
	if s.closed {
		return ErrClosed
	}

	err := s.pipeline.WriteTo(port, doc)
	if err != nil {
		return errors.Wrapf(err, "unable to write to port %s", port)
	}

	return nil
}

// WriteInput reads in and appends it to port.
func (s *Session) WriteInput(port string, in binding.Input) error {
	if s.closed {
		return ErrClosed
	}

	doc, err := s.document(in)
	if err != nil {
		return err
	}

	return s.WriteDocument(port, doc)
}

// ApplyInputs writes the documents of plan. The documents of a port are read
// in order and written after the port is cleared. When the plan designates a stdin port and the pipeline has no
// document on it, one document is read from standard input.
func (s *Session) ApplyInputs(ctx context.Context, plan binding.InputPlan) error {
	if s.closed {
		return ErrClosed
	}

	if len(plan.Unresolved) > 0 {
		s.logger.Warn().Int("documents", len(plan.Unresolved)).Msg("no single primary input port, unnamed input ignored")
	}

	for _, b := range plan.Bindings {
		docs, err := s.documents(ctx, b.Inputs)
		if err != nil {
			return errors.Wrapf(err, "unable to read inputs of port %s", b.Port)
		}

		s.pipeline.ClearInputs(b.Port)

		for _, doc := range docs {
			err = s.WriteDocument(b.Port, doc)
			if err != nil {
				return err
			}
		}

		s.logger.Debug().Str("port", b.Port).Stringer("origin", b.Origin).Int("documents", len(docs)).Msg("bound input")
	}

	if plan.StdinPort == "" || s.pipeline.HasReadablePipes(plan.StdinPort) || s.stdin == nil {
		return nil
	}

	s.logger.Debug().Str("port", plan.StdinPort).Msg("reading input from stdin")

	doc, err := s.runtime.Parse(s.stdin, "")
	if err != nil {
		return errors.Wrap(err, "unable to read standard input")
	}

	return s.WriteDocument(plan.StdinPort, doc)
}

// documents reads inputs one after the other. Several of them may share the
// same reader.
func (s *Session) documents(ctx context.Context, inputs []binding.Input) ([]xproc.Document, error) {
	docs := make([]xproc.Document, 0, len(inputs))

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := s.document(in)
		if err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

func (s *Session) document(in binding.Input) (xproc.Document, error) {
	switch in.Kind {
	case binding.InputDocument:
		if in.Document == nil {
			return nil, errors.New("document must be set")
		}

		return in.Document, nil
	case binding.InputStream:
		doc, err := s.runtime.Parse(in.Reader, in.URI)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to parse %s", in)
		}

		return doc, nil
	default:
		r, err := s.openInput(in.URI)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		doc, err := s.runtime.Parse(r, in.URI)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to parse %s", in.URI)
		}

		return doc, nil
	}
}

// Run executes the pipeline. A session runs at most once.
func (s *Session) Run(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}

	if s.ran {
		return ErrAlreadyRun
	}

	s.ran = true

	err := s.pipeline.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to run pipeline")
	}

	return nil
}

// ReadOutputs returns the documents of an output port. They are produced
// lazily.
func (s *Session) ReadOutputs(port string) (xproc.ReadablePipe, error) {
	if s.closed {
		return nil, ErrClosed
	}

	pipe, err := s.pipeline.ReadFrom(port)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read port %s", port)
	}

	return pipe, nil
}

// CopyOutputs drains port into out. A discard sink still reads the documents.
// The sink is released on every path and the first error is returned.
func (s *Session) CopyOutputs(port string, out binding.Output) (err error) {
	if s.closed {
		return ErrClosed
	}

	out = out.Normalize()

	pipe, err := s.ReadOutputs(port)
	if err != nil {
		return err
	}

	if out.Kind == binding.Discard {
		return drain(pipe, nil)
	}

	settings := serialization.Resolve(s.pipeline.Serialization(port), s.globals)

	w, err := s.openSink(out)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = &ResourceError{Output: out, Err: cerr}
		}
	}()

	dw, err := s.runtime.NewDocumentWriter(w, settings)
	if err != nil {
		return &ResourceError{Output: out, Err: err}
	}

	defer func() {
		if cerr := dw.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "unable to flush port %s", port)
		}
	}()

	return drain(pipe, dw)
}

// RouteOutputs copies every port of plan to its sink, in declaration order,
// and stops at the first error.
func (s *Session) RouteOutputs(plan binding.OutputPlan) error {
	for _, route := range plan.Routes {
		s.logger.Trace().Str("port", route.Port).Stringer("output", route.Output).Msg("copy output")

		err := s.CopyOutputs(route.Port, route.Output)
		if err != nil {
			return errors.Wrapf(err, "unable to copy output %s", route.Port)
		}
	}

	return nil
}

// Close releases the runtime. Only the first call has an effect.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	err := s.runtime.Close()
	if err != nil {
		return errors.Wrap(err, "unable to close runtime")
	}

	return nil
}

func drain(pipe xproc.ReadablePipe, dw xproc.DocumentWriter) error {
	for pipe.MoreDocuments() {
		doc, err := pipe.Read()
		if err != nil {
			return errors.Wrap(err, "unable to read document")
		}

		if dw == nil {
			continue
		}

		err = dw.Write(doc)
		if err != nil {
			return errors.Wrap(err, "unable to write document")
		}
	}

	return nil
}
