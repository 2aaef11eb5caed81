// Package flow is a small pipeline engine. Pipelines are written in HCL and
// run as a graph of concurrent stages.
//
//	pipeline "wrap" {
//	  input "source" {}
//	  option "wrapper" { default = "wrapped" }
//	  step "wrap" "outer" { wrapper = option.wrapper }
//	  output "result" {}
//	}
package flow

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/askiada/pipedriver/pkg/flow/stage"
	"github.com/askiada/pipedriver/pkg/serialization"
	"github.com/askiada/pipedriver/pkg/xproc"
)

var ErrRuntimeClosed = errors.New("runtime is closed")

// Engine creates runtimes sharing the same observers.
type Engine struct {
	observers []stage.Observer
	logger    zerolog.Logger
	buffer    int
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: zerolog.Nop(),
		buffer: 1,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewRuntime creates a runtime.
func (e *Engine) NewRuntime(ctx context.Context) (xproc.Runtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to create runtime")
	}

	return &Runtime{engine: e, parser: hclparse.NewParser()}, nil
}

// Runtime loads pipelines from HCL files.
type Runtime struct {
	engine *Engine
	parser *hclparse.Parser

	mu     sync.Mutex
	closed bool
}

// Load reads the pipeline at uri. The fragment of uri, when present, names
// the pipeline to pick among the ones of the file.
func (rt *Runtime) Load(ctx context.Context, uri string) (xproc.Pipeline, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil, ErrRuntimeClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to load pipeline")
	}

	path, name, err := splitPipelineURI(uri)
	if err != nil {
		return nil, xproc.WrapError(err, xproc.ErrorCode("XD0012"), "unable to load pipeline "+uri)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, xproc.WrapError(err, xproc.ErrorCode("XS0052"), "unable to load pipeline "+uri)
	}

	def, err := loadDefinition(rt.parser, path, name)
	if err != nil {
		return nil, err
	}

	rt.engine.logger.Debug().
		Str("pipeline", def.name).
		Strs("order", def.graph.order).
		Msg("pipeline loaded")

	return newPipeline(rt.engine, def, uri), nil
}

// Parse reads a document.
func (rt *Runtime) Parse(r io.Reader, baseURI string) (xproc.Document, error) {
	doc, err := Parse(r, baseURI)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// NewDocumentWriter creates a writer serializing documents to w.
func (rt *Runtime) NewDocumentWriter(w io.Writer, settings serialization.Settings) (xproc.DocumentWriter, error) {
	dw, err := newDocumentWriter(w, settings)
	if err != nil {
		return nil, err
	}

	return dw, nil
}

// Close releases the runtime. Loading after Close fails.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.closed = true

	return nil
}

// splitPipelineURI returns the local path and the fragment of uri. Only bare
// paths and file URIs are supported.
func splitPipelineURI(uri string) (string, string, error) {
	path, fragment, _ := strings.Cut(uri, "#")

	if !strings.Contains(path, "://") && !strings.HasPrefix(path, "file:") {
		return path, fragment, nil
	}

	u, err := url.Parse(path)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid pipeline URI %s", uri)
	}

	if u.Scheme != "file" {
		return "", "", errors.Errorf("unsupported scheme %s", u.Scheme)
	}

	if u.Path != "" {
		return u.Path, fragment, nil
	}

	return u.Opaque, fragment, nil
}

var (
	_ xproc.Engine  = (*Engine)(nil)
	_ xproc.Runtime = (*Runtime)(nil)
)
