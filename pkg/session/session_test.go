package session_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/pipedriver/internal/xproctest"
	"github.com/askiada/pipedriver/pkg/binding"
	"github.com/askiada/pipedriver/pkg/qname"
	"github.com/askiada/pipedriver/pkg/serialization"
	"github.com/askiada/pipedriver/pkg/session"
	"github.com/askiada/pipedriver/pkg/xproc"
)

func newPipeline() *xproctest.Pipeline {
	return xproctest.NewPipeline(
		[]xproc.Port{{Name: "source", Primary: true}, {Name: "params", Primary: true, Parameters: true}},
		[]xproc.Port{{Name: "result", Primary: true}, {Name: "log"}},
	)
}

func open(t *testing.T, p *xproctest.Pipeline, opts ...session.Option) (*session.Session, *xproctest.Engine) {
	t.Helper()

	engine := xproctest.NewEngine().Add("p.hcl", p)

	s, err := session.Open(context.Background(), engine, "p.hcl", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, engine
}

func doc(uri string) xproc.Document {
	return &xproctest.Doc{URI: uri, Body: "<" + uri + "/>"}
}

func TestOpenWithoutSource(t *testing.T) {
	t.Parallel()

	_, err := session.Open(context.Background(), xproctest.NewEngine(), "")
	require.ErrorIs(t, err, session.ErrUnsupported)

	var unsupported *session.UnsupportedOperationError
	assert.True(t, errors.As(err, &unsupported))
}

func TestOpenLoadFailureClosesRuntime(t *testing.T) {
	t.Parallel()

	engine := xproctest.NewEngine()

	_, err := session.Open(context.Background(), engine, "missing.hcl")
	require.Error(t, err)

	code := xproc.CodeOf(err)
	require.NotNil(t, code)
	assert.Equal(t, "XD0064", code.Local)

	require.Len(t, engine.Runtimes(), 1)
	assert.Equal(t, 1, engine.Runtimes()[0].Closed())
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	s, engine := open(t, p)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, engine.Runtimes()[0].Closed())

	require.ErrorIs(t, s.Run(context.Background()), session.ErrClosed)
	require.ErrorIs(t, s.PassOption(qname.Local("x"), "1"), session.ErrClosed)
	require.ErrorIs(t, s.CopyOutputs("result", binding.DiscardOutput()), session.ErrClosed)
}

func TestRunOnce(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	s, _ := open(t, p)

	require.NoError(t, s.Run(context.Background()))
	require.ErrorIs(t, s.Run(context.Background()), session.ErrAlreadyRun)
	assert.Equal(t, 1, p.Runs())
}

func TestRunKeepsExecutionError(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	p.Script = func(*xproctest.Pipeline) error {
		return xproc.NewError(xproc.ErrorCode("XC0039"), "boom")
	}
	s, _ := open(t, p)

	err := s.Run(context.Background())
	require.Error(t, err)

	code := xproc.CodeOf(err)
	require.NotNil(t, code)
	assert.Equal(t, "XC0039", code.Local)
}

func TestWriteKeepsOrder(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	p.Defaults["source"] = []xproc.Document{doc("default")}
	s, _ := open(t, p)

	require.NoError(t, s.ClearInputs("source"))

	for _, uri := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.WriteDocument("source", doc(uri)))
	}

	got := make([]string, 0, 4)
	for _, d := range p.Documents("source") {
		got = append(got, d.BaseURI())
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestApplyInputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	names := []string{"one.xml", "two.xml", "three.xml", "four.xml", "five.xml"}
	inputs := make([]binding.Input, 0, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("<"+name+"/>"), 0o600))
		inputs = append(inputs, binding.URIInput(path))
	}

	p := newPipeline()
	p.Defaults["source"] = []xproc.Document{doc("default")}
	s, _ := open(t, p, session.WithStdin(strings.NewReader("<stdin/>")))

	plan := binding.InputPlan{Bindings: []binding.InputBinding{{Port: "source", Inputs: inputs}}}
	require.NoError(t, s.ApplyInputs(context.Background(), plan))

	docs := p.Documents("source")
	require.Len(t, docs, len(names))

	for i, d := range docs {
		assert.Equal(t, "<"+names[i]+"/>", d.(*xproctest.Doc).Body)
	}
}

func TestApplyInputsSharedStdin(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	s, _ := open(t, p, session.WithStdin(strings.NewReader("<stdin/>")))

	plan := binding.InputPlan{Bindings: []binding.InputBinding{{
		Port:   "source",
		Inputs: []binding.Input{binding.URIInput("-"), binding.URIInput("-")},
	}}}
	require.NoError(t, s.ApplyInputs(context.Background(), plan))

	docs := p.Documents("source")
	require.Len(t, docs, 2)
	assert.Equal(t, "<stdin/>", docs[0].(*xproctest.Doc).Body)
	assert.Empty(t, docs[1].(*xproctest.Doc).Body, "standard input is consumed by the first read")
}

func TestApplyInputsCancelled(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	s, engine := open(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := binding.InputPlan{Bindings: []binding.InputBinding{{
		Port:   "source",
		Inputs: []binding.Input{binding.StreamInput(strings.NewReader("<a/>"), "a")},
	}}}
	require.ErrorIs(t, s.ApplyInputs(ctx, plan), context.Canceled)
	assert.Zero(t, engine.Runtimes()[0].Parsed())
	assert.Empty(t, p.Documents("source"))
}

func TestApplyInputsMissingFile(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	s, _ := open(t, p)

	plan := binding.InputPlan{Bindings: []binding.InputBinding{{
		Port:   "source",
		Inputs: []binding.Input{binding.URIInput(filepath.Join(t.TempDir(), "nope.xml"))},
	}}}

	err := s.ApplyInputs(context.Background(), plan)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, p.Calls(), "nothing is written when an input cannot be read")
}

func TestApplyInputsStdin(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		defaults []xproc.Document
		expected string
	}{
		"empty port reads stdin":   {expected: "<stdin/>"},
		"bound port ignores stdin": {defaults: []xproc.Document{doc("default")}, expected: "<default/>"},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := newPipeline()
			if tc.defaults != nil {
				p.Defaults["source"] = tc.defaults
			}

			s, _ := open(t, p, session.WithStdin(strings.NewReader("<stdin/>")))

			require.NoError(t, s.ApplyInputs(context.Background(), binding.InputPlan{StdinPort: "source"}))

			docs := p.Documents("source")
			require.Len(t, docs, 1)
			assert.Equal(t, tc.expected, docs[0].(*xproctest.Doc).Body)
		})
	}
}

func TestSetParameterWildcard(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	s, _ := open(t, p)

	params := binding.Params{}
	params.Set("params", qname.Local("a"), "named")
	params.Set("params", qname.Local("b"), "named")
	params.Set(binding.WildcardPort, qname.Local("a"), "wildcard")
	params.Set(binding.WildcardPort, qname.Local("c"), "wildcard")

	require.NoError(t, s.SetParameters(params))
	assert.Equal(t, map[qname.QName]string{
		qname.Local("a"): "named",
		qname.Local("b"): "named",
		qname.Local("c"): "wildcard",
	}, p.Params("params"))

	var order []string

	for _, c := range p.Calls() {
		order = append(order, c.Name+"="+c.Value)
	}

	assert.Equal(t, []string{"a=wildcard", "c=wildcard", "a=named", "b=named"}, order)
}

func TestCopyOutputs(t *testing.T) {
	t.Parallel()

	indent := serialization.Default()
	indent.Indent = true

	tcs := map[string]struct {
		declared *serialization.Settings
		globals  map[string]string
		expected bool
	}{
		"globals apply":         {globals: map[string]string{serialization.KeyIndent: "true"}, expected: true},
		"declared wins":         {declared: &indent, globals: map[string]string{serialization.KeyIndent: "false"}, expected: true},
		"non true is false":     {globals: map[string]string{serialization.KeyIndent: "yes"}},
		"nothing is configured": {},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := newPipeline()
			p.Results["result"] = []xproc.Document{doc("a"), doc("b")}
			if tc.declared != nil {
				p.Declared["result"] = tc.declared
			}

			var out bytes.Buffer

			s, engine := open(t, p, session.WithSerializationDefaults(tc.globals))
			require.NoError(t, s.CopyOutputs("result", binding.StreamOutput(&out)))
			assert.Equal(t, "<a/>\n<b/>\n", out.String())

			settings := engine.Runtimes()[0].Settings()
			require.Len(t, settings, 1)
			assert.Equal(t, tc.expected, settings[0].Indent)
		})
	}
}

func TestCopyOutputsToFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.xml")
	require.NoError(t, os.WriteFile(path, []byte("previous content that is longer"), 0o600))

	p := newPipeline()
	p.Results["result"] = []xproc.Document{doc("a")}
	s, _ := open(t, p)

	require.NoError(t, s.CopyOutputs("result", binding.URIOutput("file://"+filepath.ToSlash(path))))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<a/>\n", string(b))
}

func TestCopyOutputsErrors(t *testing.T) {
	t.Parallel()

	t.Run("unsupported scheme", func(t *testing.T) {
		t.Parallel()

		p := newPipeline()
		s, _ := open(t, p)

		err := s.CopyOutputs("result", binding.URIOutput("http://example.com/out.xml"))
		require.ErrorIs(t, err, session.ErrUnsupported)
	})

	t.Run("file cannot be created", func(t *testing.T) {
		t.Parallel()

		p := newPipeline()
		s, _ := open(t, p)

		out := binding.URIOutput(filepath.Join(t.TempDir(), "missing", "out.xml"))
		err := s.CopyOutputs("result", out)

		var rerr *session.ResourceError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, out, rerr.Output)
	})

	t.Run("writer cannot be created", func(t *testing.T) {
		t.Parallel()

		p := newPipeline()
		s, engine := open(t, p)
		engine.WriterErr = assert.AnError

		var out bytes.Buffer

		err := s.CopyOutputs("result", binding.StreamOutput(&out))
		require.ErrorIs(t, err, assert.AnError)

		var rerr *session.ResourceError
		assert.True(t, errors.As(err, &rerr))
	})
}

func TestCopyOutputsReleasesWriter(t *testing.T) {
	t.Parallel()

	errClose := errors.New("close failed")

	failOn := func(uri string) func(xproc.Document) error {
		return func(d xproc.Document) error {
			if d.BaseURI() == uri {
				return assert.AnError
			}

			return nil
		}
	}

	tcs := map[string]struct {
		writeErr    func(xproc.Document) error
		closeErr    error
		wantErr     error
		wantWritten int
		wantContent string
	}{
		"write fails partway": {
			writeErr:    failOn("b"),
			wantErr:     assert.AnError,
			wantWritten: 1,
			wantContent: "<a/>\n",
		},
		"close error after a failed write": {
			writeErr:    failOn("b"),
			closeErr:    errClose,
			wantErr:     assert.AnError,
			wantWritten: 1,
			wantContent: "<a/>\n",
		},
		"close error": {
			closeErr:    errClose,
			wantErr:     errClose,
			wantWritten: 3,
			wantContent: "<a/>\n<b/>\n<c/>\n",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := newPipeline()
			p.Results["result"] = []xproc.Document{doc("a"), doc("b"), doc("c")}
			s, engine := open(t, p)
			engine.WriteErr = tc.writeErr
			engine.CloseErr = tc.closeErr

			path := filepath.Join(t.TempDir(), "out.xml")

			err := s.CopyOutputs("result", binding.URIOutput(path))
			require.ErrorIs(t, err, tc.wantErr)

			if tc.wantErr != errClose {
				assert.NotErrorIs(t, err, errClose)
			}

			writers := engine.Runtimes()[0].Writers()
			require.Len(t, writers, 1)
			assert.True(t, writers[0].Closed())
			assert.Equal(t, tc.wantWritten, writers[0].Written())

			b, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tc.wantContent, string(b))
		})
	}
}

func TestRouteOutputsFailingPort(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	p.Results["result"] = []xproc.Document{doc("r")}
	p.Results["log"] = []xproc.Document{doc("l1"), doc("l2")}

	s, engine := open(t, p)
	engine.WriteErr = func(d xproc.Document) error {
		if d.BaseURI() == "l2" {
			return assert.AnError
		}

		return nil
	}

	dir := t.TempDir()
	result := filepath.Join(dir, "result.xml")
	log := filepath.Join(dir, "log.xml")

	plan, err := binding.ResolveOutputs(s.Outputs(), nil, binding.OutputTable{
		binding.Default():    binding.URIOutput(result),
		binding.Named("log"): binding.URIOutput(log),
	})
	require.NoError(t, err)

	err = s.RouteOutputs(plan)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "log")

	writers := engine.Runtimes()[0].Writers()
	require.Len(t, writers, 2)

	for _, w := range writers {
		assert.True(t, w.Closed())
	}

	b, err := os.ReadFile(result)
	require.NoError(t, err)
	assert.Equal(t, "<r/>\n", string(b))

	b, err = os.ReadFile(log)
	require.NoError(t, err)
	assert.Equal(t, "<l1/>\n", string(b))
}

func TestRouteOutputs(t *testing.T) {
	t.Parallel()

	p := newPipeline()
	p.Results["result"] = []xproc.Document{doc("r")}
	p.Results["log"] = []xproc.Document{doc("l1"), doc("l2")}

	var stdout bytes.Buffer

	s, _ := open(t, p, session.WithStdout(&stdout))

	plan, err := binding.ResolveOutputs(s.Outputs(), nil, binding.OutputTable{binding.Default(): binding.URIOutput("-")})
	require.NoError(t, err)
	require.NoError(t, s.RouteOutputs(plan))

	assert.Equal(t, "<r/>\n", stdout.String())
	assert.Equal(t, 2, p.Reads("log"), "discarded documents are still read")
}

func TestPrimaryPorts(t *testing.T) {
	t.Parallel()

	s, _ := open(t, newPipeline())

	in, ok := s.PrimaryInputPort()
	assert.True(t, ok)
	assert.Equal(t, "source", in)

	out, ok := s.PrimaryOutputPort()
	assert.True(t, ok)
	assert.Equal(t, "result", out)
}

func TestNewRequiresPipeline(t *testing.T) {
	t.Parallel()

	_, err := session.New(nil, newPipeline())
	require.ErrorIs(t, err, session.ErrNoRuntime)
}
