// Package xproctest provides an in-memory engine that records every call made
// on it.
package xproctest

import (
	"context"
	"io"
	"io/fs"
	"sync"

	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/qname"
	"github.com/askiada/pipedriver/pkg/serialization"
	"github.com/askiada/pipedriver/pkg/xproc"
)

// Call is one recorded pipeline call.
type Call struct {
	Op    string
	Port  string
	Name  string
	Value string
}

// Doc is an in-memory document.
type Doc struct {
	URI  string
	Body string
}

// BaseURI implements xproc.Document.
func (d *Doc) BaseURI() string {
	return d.URI
}

// Engine serves the pipelines registered with Add.
type Engine struct {
	mu        sync.Mutex
	pipelines map[string]*Pipeline
	runtimes  []*Runtime

	// RuntimeErr is returned by NewRuntime when set.
	RuntimeErr error
	// WriterErr is returned by every NewDocumentWriter when set.
	WriterErr error
	// WriteErr, when set, is called before every document write. A non nil
	// result fails the write.
	WriteErr func(doc xproc.Document) error
	// CloseErr is returned by every document writer Close when set.
	CloseErr error
}

// NewEngine returns an engine without pipelines.
func NewEngine() *Engine {
	return &Engine{pipelines: make(map[string]*Pipeline)}
}

// Add registers p under uri.
func (e *Engine) Add(uri string, p *Pipeline) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pipelines[uri] = p

	return e
}

// Runtimes returns every runtime created so far.
func (e *Engine) Runtimes() []*Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]*Runtime(nil), e.runtimes...)
}

// NewRuntime implements xproc.Engine.
func (e *Engine) NewRuntime(_ context.Context) (xproc.Runtime, error) {
	if e.RuntimeErr != nil {
		return nil, e.RuntimeErr
	}

	rt := &Runtime{engine: e}

	e.mu.Lock()
	e.runtimes = append(e.runtimes, rt)
	e.mu.Unlock()

	return rt, nil
}

// Runtime is a runtime of Engine.
type Runtime struct {
	engine *Engine

	mu       sync.Mutex
	closed   int
	parsed   int
	settings []serialization.Settings
	writers  []*Writer
}

// Load implements xproc.Runtime. Unknown URIs fail with a coded error.
func (r *Runtime) Load(_ context.Context, uri string) (xproc.Pipeline, error) {
	r.engine.mu.Lock()
	p, ok := r.engine.pipelines[uri]
	r.engine.mu.Unlock()

	if !ok {
		return nil, xproc.WrapError(fs.ErrNotExist, xproc.ErrorCode("XD0064"), "cannot load "+uri)
	}

	return p, nil
}

// Parse implements xproc.Runtime. The document body is the raw input.
func (r *Runtime) Parse(in io.Reader, baseURI string) (xproc.Document, error) {
	b, err := io.ReadAll(in)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read document")
	}

	r.mu.Lock()
	r.parsed++
	r.mu.Unlock()

	return &Doc{URI: baseURI, Body: string(b)}, nil
}

// NewDocumentWriter implements xproc.Runtime. Documents are written as their
// body followed by a newline.
func (r *Runtime) NewDocumentWriter(w io.Writer, settings serialization.Settings) (xproc.DocumentWriter, error) {
	if r.engine.WriterErr != nil {
		return nil, r.engine.WriterErr
	}

	dw := &Writer{w: w, writeErr: r.engine.WriteErr, closeErr: r.engine.CloseErr}

	r.mu.Lock()
	r.settings = append(r.settings, settings)
	r.writers = append(r.writers, dw)
	r.mu.Unlock()

	return dw, nil
}

// Close implements xproc.Runtime.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed++

	return nil
}

// Closed returns how many times Close was called.
func (r *Runtime) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// Parsed returns how many documents were parsed.
func (r *Runtime) Parsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.parsed
}

// Settings returns the settings of every writer created so far.
func (r *Runtime) Settings() []serialization.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]serialization.Settings(nil), r.settings...)
}

// Writers returns every document writer created so far.
func (r *Runtime) Writers() []*Writer {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*Writer(nil), r.writers...)
}

// Writer writes documents as their body followed by a newline.
type Writer struct {
	w        io.Writer
	writeErr func(doc xproc.Document) error
	closeErr error
	written  int
	closed   bool
}

func (w *Writer) Write(doc xproc.Document) error {
	if w.closed {
		return errors.New("writer is closed")
	}

	if w.writeErr != nil {
		if err := w.writeErr(doc); err != nil {
			return err
		}
	}

	body := doc.BaseURI()
	if d, ok := doc.(*Doc); ok {
		body = d.Body
	}

	_, err := io.WriteString(w.w, body+"\n")
	if err != nil {
		return errors.Wrap(err, "unable to write document")
	}

	w.written++

	return nil
}

func (w *Writer) Close() error {
	w.closed = true

	return w.closeErr
}

// Written returns how many documents were written.
func (w *Writer) Written() int {
	return w.written
}

// Closed reports whether Close was called.
func (w *Writer) Closed() bool {
	return w.closed
}

// Pipeline is a scripted pipeline. Without Script, Run copies the documents of
// the primary input to the primary output.
type Pipeline struct {
	InputPorts  []xproc.Port
	OutputPorts []xproc.Port
	// Declared holds the serialization declared per output port.
	Declared map[string]*serialization.Settings
	// Defaults are documents bound to input ports before any write.
	Defaults map[string][]xproc.Document
	// Results are the output documents. Script may fill it.
	Results map[string][]xproc.Document
	// Script replaces the default run behaviour.
	Script func(p *Pipeline) error

	bound   map[string][]xproc.Document
	params  map[string]map[qname.QName]string
	options map[qname.QName]string
	reads   map[string]int
	calls   []Call
	runs    int
}

// NewPipeline returns a pipeline declaring inputs and outputs.
func NewPipeline(inputs, outputs []xproc.Port) *Pipeline {
	return &Pipeline{
		InputPorts:  inputs,
		OutputPorts: outputs,
		Declared:    make(map[string]*serialization.Settings),
		Defaults:    make(map[string][]xproc.Document),
		Results:     make(map[string][]xproc.Document),
		params:      make(map[string]map[qname.QName]string),
		options:     make(map[qname.QName]string),
		reads:       make(map[string]int),
	}
}

func (p *Pipeline) record(op, port, name, value string) {
	p.calls = append(p.calls, Call{Op: op, Port: port, Name: name, Value: value})
}

func (p *Pipeline) Inputs() []xproc.Port {
	return p.InputPorts
}

func (p *Pipeline) Outputs() []xproc.Port {
	return p.OutputPorts
}

func (p *Pipeline) ClearInputs(port string) {
	p.record("clear", port, "", "")

	if p.bound == nil {
		p.bound = make(map[string][]xproc.Document)
	}

	p.bound[port] = []xproc.Document{}
}

func (p *Pipeline) WriteTo(port string, doc xproc.Document) error {
	if _, ok := xproc.FindPort(p.InputPorts, port); !ok {
		return errors.Errorf("no input port %s", port)
	}

	p.record("write", port, "", doc.BaseURI())

	if p.bound == nil {
		p.bound = make(map[string][]xproc.Document)
	}

	if _, ok := p.bound[port]; !ok {
		p.bound[port] = append([]xproc.Document(nil), p.Defaults[port]...)
	}

	p.bound[port] = append(p.bound[port], doc)

	return nil
}

func (p *Pipeline) HasReadablePipes(port string) bool {
	return len(p.Documents(port)) > 0
}

// SetParameter records the parameter. An empty port targets the primary
// parameter port.
func (p *Pipeline) SetParameter(port string, name qname.QName, value string) error {
	if port == "" {
		for _, in := range p.InputPorts {
			if in.Parameters && in.Primary {
				port = in.Name

				break
			}
		}
	}

	p.record("param", port, name.String(), value)

	if p.params[port] == nil {
		p.params[port] = make(map[qname.QName]string)
	}

	p.params[port][name] = value

	return nil
}

func (p *Pipeline) PassOption(name qname.QName, value string) error {
	p.record("option", "", name.String(), value)
	p.options[name] = value

	return nil
}

func (p *Pipeline) Run(_ context.Context) error {
	p.record("run", "", "", "")
	p.runs++

	if p.Script != nil {
		return p.Script(p)
	}

	in, okIn := xproc.PrimaryInput(p.InputPorts)
	out, okOut := xproc.PrimaryOutput(p.OutputPorts)

	if okIn && okOut {
		p.Results[out] = append(p.Results[out], p.Documents(in)...)
	}

	return nil
}

func (p *Pipeline) ReadFrom(port string) (xproc.ReadablePipe, error) {
	if _, ok := xproc.FindPort(p.OutputPorts, port); !ok {
		return nil, errors.Errorf("no output port %s", port)
	}

	p.record("read", port, "", "")

	return &pipe{docs: p.Results[port], onRead: func() { p.reads[port]++ }}, nil
}

func (p *Pipeline) Serialization(port string) *serialization.Settings {
	return p.Declared[port]
}

// Documents returns the documents bound to an input port.
func (p *Pipeline) Documents(port string) []xproc.Document {
	if docs, ok := p.bound[port]; ok {
		return docs
	}

	return p.Defaults[port]
}

// Params returns the parameters set on port.
func (p *Pipeline) Params(port string) map[qname.QName]string {
	return p.params[port]
}

// Options returns the options passed so far.
func (p *Pipeline) Options() map[qname.QName]string {
	return p.options
}

// Reads returns how many documents were read from an output port.
func (p *Pipeline) Reads(port string) int {
	return p.reads[port]
}

// Calls returns the recorded calls in order.
func (p *Pipeline) Calls() []Call {
	return p.calls
}

// Runs returns how many times Run was called.
func (p *Pipeline) Runs() int {
	return p.runs
}

type pipe struct {
	docs   []xproc.Document
	pos    int
	onRead func()
}

func (p *pipe) MoreDocuments() bool {
	return p.pos < len(p.docs)
}

func (p *pipe) Read() (xproc.Document, error) {
	if p.pos >= len(p.docs) {
		return nil, io.EOF
	}

	doc := p.docs[p.pos]
	p.pos++
	p.onRead()

	return doc, nil
}
