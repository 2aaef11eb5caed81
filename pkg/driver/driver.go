// Package driver runs a pipeline once: it binds inputs, parameters and
// options, executes the pipeline, routes its outputs and always releases the
// session.
package driver

import (
	"context"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/askiada/pipedriver/pkg/binding"
	"github.com/askiada/pipedriver/pkg/errmsg"
	"github.com/askiada/pipedriver/pkg/session"
	"github.com/askiada/pipedriver/pkg/xproc"
)

var ErrEngineMustBeSet = errors.New("engine must be set")

// Bindings is one source of bindings: the configuration or the user.
type Bindings struct {
	Inputs  binding.InputTable
	Outputs binding.OutputTable
	Params  binding.Params
	Options binding.Options
}

// Request describes a full binding run.
type Request struct {
	Pipeline   string
	Configured Bindings
	User       Bindings
}

// Result reports how a run was bound.
type Result struct {
	Inputs  binding.InputPlan
	Outputs binding.OutputPlan
	// ToStdout is set when at least one port was routed to standard output.
	ToStdout bool
}

// Driver runs pipelines loaded from an engine.
type Driver struct {
	engine   xproc.Engine
	registry *errmsg.Registry

	logger  zerolog.Logger
	stdin   io.Reader
	stdout  io.Writer
	globals map[string]string
	debug   bool
}

// Option configures a Driver.
type Option func(d *Driver)

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

func WithStdin(r io.Reader) Option {
	return func(d *Driver) {
		d.stdin = r
	}
}

func WithStdout(w io.Writer) Option {
	return func(d *Driver) {
		d.stdout = w
	}
}

// WithSerializationDefaults sets the global serialization options.
func WithSerializationDefaults(globals map[string]string) Option {
	return func(d *Driver) {
		d.globals = globals
	}
}

// WithDebug dumps the resolved plans and error stacks at debug level.
func WithDebug(debug bool) Option {
	return func(d *Driver) {
		d.debug = debug
	}
}

// New creates a driver. A nil registry loads the bundled error table.
func New(engine xproc.Engine, registry *errmsg.Registry, opts ...Option) (*Driver, error) {
	if engine == nil {
		return nil, ErrEngineMustBeSet
	}

	if registry == nil {
		var err error

		registry, err = errmsg.Load()
		if err != nil {
			return nil, errors.Wrap(err, "unable to load error messages")
		}
	}

	d := &Driver{
		engine:   engine,
		registry: registry,
		logger:   zerolog.Nop(),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Registry returns the error message registry.
func (d *Driver) Registry() *errmsg.Registry {
	return d.registry
}

func (d *Driver) open(ctx context.Context, source string) (*session.Session, error) {
	return session.Open(ctx, d.engine, source,
		session.WithLogger(d.logger),
		session.WithStdin(d.stdin),
		session.WithStdout(d.stdout),
		session.WithSerializationDefaults(d.globals),
	)
}

func (d *Driver) closeSession(s *session.Session, err *error) {
	cerr := s.Close()
	if cerr == nil {
		return
	}

	if *err == nil {
		*err = cerr

		return
	}

	d.logger.Warn().Err(cerr).Msg("unable to close session")
}

// RunOnce loads source, writes input to the primary input port when there is
// one, runs the pipeline and copies the primary output port to output. A nil
// input binds nothing.
func (d *Driver) RunOnce(ctx context.Context, source string, input *binding.Input, output binding.Output) (err error) {
	s, err := d.open(ctx, source)
	if err != nil {
		return err
	}

	defer d.closeSession(s, &err)

	if port, ok := s.PrimaryInputPort(); ok && input != nil {
		err = s.ClearInputs(port)
		if err != nil {
			return err
		}

		err = s.WriteInput(port, *input)
		if err != nil {
			return err
		}
	}

	err = s.Run(ctx)
	if err != nil {
		return err
	}

	if port, ok := s.PrimaryOutputPort(); ok {
		err = s.CopyOutputs(port, output)
		if err != nil {
			return errors.Wrapf(err, "unable to copy output %s", port)
		}
	}

	return nil
}

// Run executes a full binding run. Both binding passes are resolved before
// anything is written to the pipeline. Configured parameters and options are
// applied first and user ones override identical names.
func (d *Driver) Run(ctx context.Context, req Request) (res Result, err error) {
	s, err := d.open(ctx, req.Pipeline)
	if err != nil {
		return res, err
	}

	defer d.closeSession(s, &err)

	res.Inputs, err = binding.ResolveInputs(s.Inputs(), req.Configured.Inputs, req.User.Inputs)
	if err != nil {
		return res, err
	}

	res.Outputs, err = binding.ResolveOutputs(s.Outputs(), req.Configured.Outputs, req.User.Outputs)
	if err != nil {
		return res, err
	}

	if d.debug {
		d.logger.Debug().Msg("resolved bindings\n" + spew.Sdump(res.Inputs, res.Outputs))
	}

	for _, params := range []binding.Params{req.Configured.Params, req.User.Params} {
		err = s.SetParameters(params)
		if err != nil {
			return res, err
		}
	}

	err = s.ApplyInputs(ctx, res.Inputs)
	if err != nil {
		return res, err
	}

	err = s.PassOptions(binding.MergeOptions(req.Configured.Options, req.User.Options))
	if err != nil {
		return res, err
	}

	err = s.Run(ctx)
	if err != nil {
		return res, err
	}

	err = s.RouteOutputs(res.Outputs)
	if err != nil {
		return res, err
	}

	res.ToStdout = res.Outputs.ToStdout()

	return res, nil
}
