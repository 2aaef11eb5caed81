package flow

import (
	"context"
	"strconv"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"

	"github.com/askiada/pipedriver/pkg/flow/stage"
	"github.com/askiada/pipedriver/pkg/qname"
	"github.com/askiada/pipedriver/pkg/serialization"
	"github.com/askiada/pipedriver/pkg/xproc"
)

var (
	ErrAlreadyRun     = errors.New("pipeline has already run")
	ErrNotRun         = errors.New("pipeline has not run")
	ErrUndeclaredPort = errors.New("port is not declared")
)

// environment is what step arguments and steps see of a run.
type environment struct {
	baseURI       string
	eval          *hcl.EvalContext
	params        map[string]map[qname.QName]string
	primaryParams string
}

// Pipeline is a loaded pipeline. It runs once.
type Pipeline struct {
	def       *definition
	baseURI   string
	observers []stage.Observer
	logger    zerolog.Logger
	buffer    int

	bound   map[string][]*Document
	params  map[string]map[qname.QName]string
	options map[qname.QName]string

	mu      sync.Mutex
	results map[string][]*Document
	ran     bool
}

func newPipeline(e *Engine, def *definition, baseURI string) *Pipeline {
	p := &Pipeline{
		def:       def,
		baseURI:   baseURI,
		observers: e.observers,
		logger:    e.logger.With().Str("pipeline", def.name).Logger(),
		buffer:    e.buffer,
		bound:     map[string][]*Document{},
		params:    map[string]map[qname.QName]string{},
		options:   map[qname.QName]string{},
	}

	for _, in := range def.inputs {
		if len(in.defaults) > 0 {
			p.bound[in.Name] = append([]*Document(nil), in.defaults...)
		}
	}

	return p
}

// Inputs returns the declared input ports.
func (p *Pipeline) Inputs() []xproc.Port {
	return p.def.ports()
}

// Outputs returns the declared output ports.
func (p *Pipeline) Outputs() []xproc.Port {
	return p.def.outputPorts()
}

// ClearInputs drops the documents bound to port, defaults included.
func (p *Pipeline) ClearInputs(port string) {
	p.bound[port] = []*Document{}
}

// WriteTo binds one more document to port.
func (p *Pipeline) WriteTo(port string, doc xproc.Document) error {
	if p.def.input(port) == nil {
		return errors.Wrapf(ErrUndeclaredPort, "input %s", port)
	}

	d, err := asDocument(doc)
	if err != nil {
		return err
	}

	p.bound[port] = append(p.bound[port], d)

	return nil
}

// HasReadablePipes reports whether port has documents bound to it.
func (p *Pipeline) HasReadablePipes(port string) bool {
	return len(p.bound[port]) > 0
}

// SetParameter sets a parameter on port, or on the primary parameter port
// when port is empty. Parameters for a pipeline without parameter port are
// dropped.
func (p *Pipeline) SetParameter(port string, name qname.QName, value string) error {
	if port == "" {
		port = p.primaryParameterPort()
		if port == "" {
			p.logger.Debug().Str("name", name.String()).Msg("no parameter port, parameter dropped")

			return nil
		}
	}

	in := p.def.input(port)
	if in == nil || !in.Parameters {
		return errors.Wrapf(ErrUndeclaredPort, "parameter input %s", port)
	}

	if p.params[port] == nil {
		p.params[port] = map[qname.QName]string{}
	}

	p.params[port][name] = value

	return nil
}

// PassOption sets an option declared by the pipeline.
func (p *Pipeline) PassOption(name qname.QName, value string) error {
	if p.def.option(name) == nil {
		return xproc.NewError(xproc.ErrorCode("XS0031"), "undeclared option "+name.String())
	}

	p.options[name] = value

	return nil
}

// Serialization returns the settings declared on output port, or nil.
func (p *Pipeline) Serialization(port string) *serialization.Settings {
	out := p.def.output(port)
	if out == nil || out.serialization == nil {
		return nil
	}

	settings := *out.serialization

	return &settings
}

// ReadFrom returns the documents produced on port.
func (p *Pipeline) ReadFrom(port string) (xproc.ReadablePipe, error) {
	if p.def.output(port) == nil {
		return nil, errors.Wrapf(ErrUndeclaredPort, "output %s", port)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ran {
		return nil, ErrNotRun
	}

	return &pipe{docs: p.results[port]}, nil
}

func (p *Pipeline) primaryParameterPort() string {
	for _, in := range p.def.inputs {
		if in.Parameters && in.Primary {
			return in.Name
		}
	}

	return ""
}

// Run checks the bound documents and options, then runs every step.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()

		return ErrAlreadyRun
	}

	p.ran = true
	p.results = map[string][]*Document{}
	p.mu.Unlock()

	env, err := p.environment()
	if err != nil {
		return err
	}

	err = p.checkInputs()
	if err != nil {
		return err
	}

	err = p.execute(ctx, env)
	if err != nil {
		return err
	}

	return p.checkOutputs()
}

func (p *Pipeline) environment() (*environment, error) {
	options := map[string]cty.Value{}

	for _, opt := range p.def.options {
		value, ok := p.options[opt.name]

		switch {
		case ok:
		case opt.value != nil:
			value = *opt.value
		case opt.required:
			return nil, xproc.NewError(xproc.ErrorCode("XS0018"), "no value for required option "+opt.name.String())
		default:
			value = ""
		}

		options[opt.name.Local] = cty.StringVal(value)
	}

	primary := p.primaryParameterPort()
	params := map[string]cty.Value{}

	for name, value := range p.params[primary] {
		if name.Space == "" {
			params[name.Local] = cty.StringVal(value)
		}
	}

	return &environment{
		baseURI: p.baseURI,
		eval: &hcl.EvalContext{
			Variables: map[string]cty.Value{
				"option": cty.ObjectVal(options),
				"param":  cty.ObjectVal(params),
			},
		},
		params:        p.params,
		primaryParams: primary,
	}, nil
}

func (p *Pipeline) checkInputs() error {
	for _, in := range p.def.inputs {
		if in.sequence {
			continue
		}

		if n := len(p.bound[in.Name]); n != 1 {
			return xproc.NewError(xproc.ErrorCode("XD0006"),
				"input "+in.Name+" expects exactly one document, got "+strconv.Itoa(n))
		}
	}

	return nil
}

func (p *Pipeline) checkOutputs() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, out := range p.def.outputs {
		if out.sequence {
			continue
		}

		if n := len(p.results[out.Name]); n != 1 {
			return xproc.NewError(xproc.ErrorCode("XD0007"),
				"output "+out.Name+" expects exactly one document, got "+strconv.Itoa(n))
		}
	}

	return nil
}

type docStage = stage.Stage[*Document]

// execute builds one stage per node of the graph and runs them. A node read
// by more than one node fans out.
func (p *Pipeline) execute(ctx context.Context, env *environment) (err error) {
	args := make(map[string]interface{}, len(p.def.steps))

	for _, st := range p.def.steps {
		args[st.name], err = st.kind.decode(st.body, env)
		if err != nil {
			return errors.Wrapf(err, "step %s", st.name)
		}
	}

	r, err := stage.New(ctx, p.observers...)
	if err != nil {
		return errors.Wrap(err, "unable to create runner")
	}

	defer func() {
		if err != nil {
			r.Cancel()
		}
	}()

	sg := p.def.graph
	streams := map[string]*docStage{}
	fanouts := map[string]*stage.Fanout[*Document]{}

	take := func(vertex string) *docStage {
		if f, ok := fanouts[vertex]; ok {
			branch, _ := f.Get()

			return branch
		}

		return streams[vertex]
	}

	for _, vertex := range sg.order {
		consumers := sg.consumers[vertex]
		name := sg.names[vertex]

		var st *docStage

		switch sg.kinds[vertex] {
		case inputNode:
			if consumers == 0 {
				continue
			}

			st, err = p.addInput(r, vertex, p.bound[name])
		case stepNode:
			st, err = p.addStep(r, vertex, p.def.step(name), args[name], take(sg.parents[vertex]), env)
		case outputNode:
			err = p.addOutput(r, vertex, name, take(sg.parents[vertex]))
		}

		if err != nil {
			return errors.Wrapf(err, "unable to add %s", vertex)
		}

		if st == nil {
			continue
		}

		switch {
		case consumers == 0:
			err = stage.AddSink(r, vertex+" discard", st, func(context.Context, *Document) error { return nil })
		case consumers > 1:
			fanouts[vertex], err = stage.AddFanout(r, vertex+" fanout", st, consumers, stage.FanoutBuffer(p.buffer))
		default:
			streams[vertex] = st
		}

		if err != nil {
			return errors.Wrapf(err, "unable to connect %s", vertex)
		}
	}

	p.logger.Debug().Int("stages", len(sg.order)).Msg("running pipeline")

	return r.Run()
}

func (p *Pipeline) addInput(r *stage.Runner, vertex string, docs []*Document) (*docStage, error) {
	return stage.AddSource(r, vertex, func(ctx context.Context, out chan<- *Document) error {
		for _, doc := range docs {
			if err := stage.Emit(ctx, out, doc); err != nil {
				return err
			}
		}

		return nil
	})
}

func (p *Pipeline) addStep(r *stage.Runner, vertex string, def *stepDef, args interface{}, input *docStage, env *environment) (*docStage, error) {
	if def.kind.perDocument != nil {
		return stage.AddTransform(r, vertex, input, func(_ context.Context, doc *Document) ([]*Document, error) {
			return def.kind.perDocument(args, doc, env)
		})
	}

	return stage.AddCollector(r, vertex, input, func(_ context.Context, docs []*Document) ([]*Document, error) {
		return def.kind.allDocuments(args, docs, env)
	})
}

func (p *Pipeline) addOutput(r *stage.Runner, vertex, port string, input *docStage) error {
	return stage.AddSink(r, vertex, input, func(_ context.Context, doc *Document) error {
		p.mu.Lock()
		defer p.mu.Unlock()

		p.results[port] = append(p.results[port], doc)

		return nil
	})
}

// pipe reads the documents of an output port.
type pipe struct {
	docs []*Document
	pos  int
}

func (rp *pipe) MoreDocuments() bool {
	return rp.pos < len(rp.docs)
}

func (rp *pipe) Read() (xproc.Document, error) {
	if !rp.MoreDocuments() {
		return nil, errors.New("no more documents")
	}

	doc := rp.docs[rp.pos]
	rp.pos++

	return doc, nil
}

var _ xproc.Pipeline = (*Pipeline)(nil)
