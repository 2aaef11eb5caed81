package flow_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/pipedriver/pkg/flow"
	"github.com/askiada/pipedriver/pkg/flow/drawer"
	"github.com/askiada/pipedriver/pkg/flow/measure"
	"github.com/askiada/pipedriver/pkg/qname"
	"github.com/askiada/pipedriver/pkg/serialization"
	"github.com/askiada/pipedriver/pkg/xproc"
)

func newRuntime(t *testing.T, opts ...flow.Option) xproc.Runtime {
	t.Helper()

	rt, err := flow.New(opts...).NewRuntime(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { _ = rt.Close() })

	return rt
}

func writePipeline(t *testing.T, src string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	return path
}

func writeDoc(t *testing.T, rt xproc.Runtime, p xproc.Pipeline, port, body string) {
	t.Helper()

	doc, err := rt.Parse(strings.NewReader(body), "test.xml")
	require.NoError(t, err)
	require.NoError(t, p.WriteTo(port, doc))
}

func readAll(t *testing.T, rt xproc.Runtime, p xproc.Pipeline, port string) []string {
	t.Helper()

	pipe, err := p.ReadFrom(port)
	require.NoError(t, err)

	var got []string

	for pipe.MoreDocuments() {
		doc, err := pipe.Read()
		require.NoError(t, err)

		var buf bytes.Buffer

		dw, err := rt.NewDocumentWriter(&buf, serialization.Default())
		require.NoError(t, err)
		require.NoError(t, dw.Write(doc))
		require.NoError(t, dw.Close())

		got = append(got, buf.String())
	}

	return got
}

func TestWrap(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		option string
		want   string
	}{
		"default option": {want: "<wrapped><doc>hi</doc></wrapped>"},
		"passed option":  {option: "outer", want: "<outer><doc>hi</doc></outer>"},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rt := newRuntime(t)

			p, err := rt.Load(context.Background(), "testdata/wrap.hcl")
			require.NoError(t, err)

			assert.Equal(t, []xproc.Port{{Name: "source", Primary: true}}, p.Inputs())
			assert.Equal(t, []xproc.Port{{Name: "result", Primary: true}}, p.Outputs())
			assert.Nil(t, p.Serialization("result"))

			if tc.option != "" {
				require.NoError(t, p.PassOption(qname.Local("wrapper"), tc.option))
			}

			writeDoc(t, rt, p, "source", "<doc>hi</doc>")
			require.NoError(t, p.Run(context.Background()))

			assert.Equal(t, []string{tc.want}, readAll(t, rt, p, "result"))
		})
	}
}

func TestMultipleOutputs(t *testing.T) {
	t.Parallel()

	m := measure.NewDefaultMeasure()

	var dot bytes.Buffer

	rt := newRuntime(t,
		flow.WithObserver(measure.Observer(m)),
		flow.WithObserver(drawer.Observer(drawer.NewDOTDrawer(&dot), m)),
		flow.WithBuffer(4),
	)

	p, err := rt.Load(context.Background(), "testdata/multi.hcl")
	require.NoError(t, err)

	assert.Equal(t, []xproc.Port{
		{Name: "source", Primary: true},
		{Name: "parameters", Primary: true, Parameters: true},
	}, p.Inputs())

	require.NotNil(t, p.Serialization("result"))
	assert.True(t, p.Serialization("result").Indent)

	writeDoc(t, rt, p, "source", "<a/>")
	writeDoc(t, rt, p, "source", "<b/>")
	require.NoError(t, p.SetParameter("", qname.Local("name"), "item"))
	require.NoError(t, p.SetParameter("parameters", qname.New("urn:x", "other"), "x"))

	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{`<c:result xmlns:c="http://www.w3.org/ns/xproc-step">2</c:result>`}, readAll(t, rt, p, "result"))
	assert.Equal(t, []string{"<a/>", "<b/>"}, readAll(t, rt, p, "copy"))
	assert.Equal(t, []string{"<item><a/></item>", "<item><b/></item>"}, readAll(t, rt, p, "named"))
	assert.Equal(t, []string{
		`<c:param-set xmlns:c="http://www.w3.org/ns/xproc-step"><c:param name="name" value="item"/>` +
			`<c:param name="other" namespace="urn:x" value="x"/></c:param-set>`,
	}, readAll(t, rt, p, "params"))

	assert.Equal(t, int64(2), m.GetMetric("step named").Count())
	assert.Contains(t, dot.String(), `"input source" -> "input source fanout"`)
	assert.Contains(t, dot.String(), `"output result" -> "end"`)
}

func TestPipelineFragment(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		uri     string
		want    string
		wantErr bool
	}{
		"first":        {uri: "testdata/library.hcl#first", want: "<first/>"},
		"second":       {uri: "testdata/library.hcl#second", want: "<second/>"},
		"ambiguous":    {uri: "testdata/library.hcl", wantErr: true},
		"unknown name": {uri: "testdata/library.hcl#third", wantErr: true},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rt := newRuntime(t)

			p, err := rt.Load(context.Background(), tc.uri)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, xproc.ErrorCode("XS0059"), *xproc.CodeOf(err))

				return
			}

			require.NoError(t, err)
			assert.True(t, p.HasReadablePipes("source"))
			require.NoError(t, p.Run(context.Background()))
			assert.Equal(t, []string{tc.want}, readAll(t, rt, p, "result"))
		})
	}
}

func TestClearInputsDropsDefaults(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)

	p, err := rt.Load(context.Background(), "testdata/library.hcl#first")
	require.NoError(t, err)

	p.ClearInputs("source")
	assert.False(t, p.HasReadablePipes("source"))

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, xproc.ErrorCode("XD0006"), *xproc.CodeOf(err))
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		src  string
		code string
	}{
		"loop": {
			src: `pipeline "p" {
  input "source" {}
  step "identity" "a" { source = "b" }
  step "identity" "b" { source = "a" }
  output "result" {}
}`,
			code: "XS0001",
		},
		"duplicate name": {
			src: `pipeline "p" {
  input "source" {}
  step "identity" "source" {}
  output "result" {}
}`,
			code: "XS0002",
		},
		"unknown kind": {
			src: `pipeline "p" {
  input "source" {}
  step "transmogrify" "a" {}
  output "result" {}
}`,
			code: "XS0010",
		},
		"unexpected argument": {
			src: `pipeline "p" {
  input "source" {}
  step "identity" "a" { wrapper = "x" }
  output "result" {}
}`,
			code: "XS0010",
		},
		"unknown source": {
			src: `pipeline "p" {
  input "source" {}
  step "identity" "a" { source = "nope" }
  output "result" {}
}`,
			code: "XS0022",
		},
		"undeclared option": {
			src: `pipeline "p" {
  input "source" {}
  step "wrap" "a" { wrapper = option.missing }
  output "result" {}
}`,
			code: "XS0031",
		},
		"two primary inputs": {
			src: `pipeline "p" {
  input "a" { primary = true }
  input "b" { primary = true }
  output "result" {}
}`,
			code: "XS0030",
		},
		"two primary outputs": {
			src: `pipeline "p" {
  input "source" {}
  output "a" { primary = true }
  output "b" { primary = true }
}`,
			code: "XS0014",
		},
		"not hcl": {
			src:  `pipeline {`,
			code: "XS0059",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rt := newRuntime(t)

			_, err := rt.Load(context.Background(), writePipeline(t, tc.src))
			require.Error(t, err)

			code := xproc.CodeOf(err)
			require.NotNil(t, code, err.Error())
			assert.Equal(t, xproc.ErrorCode(tc.code), *code)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)

	_, err := rt.Load(context.Background(), filepath.Join(t.TempDir(), "missing.hcl"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = rt.Load(context.Background(), "http://example.com/p.hcl")
	require.Error(t, err)
	assert.Equal(t, xproc.ErrorCode("XD0012"), *xproc.CodeOf(err))

	require.NoError(t, rt.Close())

	_, err = rt.Load(context.Background(), "testdata/wrap.hcl")
	require.ErrorIs(t, err, flow.ErrRuntimeClosed)
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		src     string
		docs    int
		options map[string]string
		code    string
		message string
	}{
		"required option": {
			src: `pipeline "p" {
  input "source" {}
  option "name" { required = true }
  step "wrap" "a" { wrapper = option.name }
  output "result" {}
}`,
			docs: 1,
			code: "XS0018",
		},
		"no document": {
			src: `pipeline "p" {
  input "source" {}
  output "result" {}
}`,
			code: "XD0006",
		},
		"too many documents": {
			src: `pipeline "p" {
  input "source" {}
  output "result" {}
}`,
			docs: 2,
			code: "XD0006",
		},
		"sequence output expected": {
			src: `pipeline "p" {
  input "source" { sequence = true }
  output "result" {}
}`,
			docs: 2,
			code: "XD0007",
		},
		"error step": {
			src: `pipeline "p" {
  input "source" {}
  step "error" "fail" {
    code    = "err:XD0030"
    message = "step failed"
  }
  output "result" {}
}`,
			docs:    1,
			code:    "XD0030",
			message: "step failed",
		},
		"error step with local code": {
			src: `pipeline "p" {
  input "source" {}
  step "error" "fail" { code = "XC0001" }
  output "result" {}
}`,
			docs: 1,
			code: "XC0001",
		},
		"empty wrapper": {
			src: `pipeline "p" {
  input "source" {}
  option "name" { default = "" }
  step "wrap" "a" { wrapper = option.name }
  output "result" {}
}`,
			docs: 1,
			code: "XD0019",
		},
		"missing parameter": {
			src: `pipeline "p" {
  input "source" {}
  step "wrap" "a" { wrapper = param.missing }
  output "result" {}
}`,
			docs: 1,
			code: "XD0023",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rt := newRuntime(t)

			p, err := rt.Load(context.Background(), writePipeline(t, tc.src))
			require.NoError(t, err)

			for range tc.docs {
				writeDoc(t, rt, p, "source", "<doc/>")
			}

			err = p.Run(context.Background())
			require.Error(t, err)

			code := xproc.CodeOf(err)
			require.NotNil(t, code, err.Error())
			assert.Equal(t, xproc.ErrorCode(tc.code), *code)

			if tc.message != "" {
				assert.Contains(t, err.Error(), tc.message)
			}
		})
	}
}

func TestPipelineContract(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)

	p, err := rt.Load(context.Background(), "testdata/wrap.hcl")
	require.NoError(t, err)

	_, err = p.ReadFrom("result")
	require.ErrorIs(t, err, flow.ErrNotRun)

	_, err = p.ReadFrom("missing")
	require.ErrorIs(t, err, flow.ErrUndeclaredPort)

	require.ErrorIs(t, p.WriteTo("missing", nil), flow.ErrUndeclaredPort)
	require.ErrorIs(t, p.WriteTo("source", foreignDoc{}), flow.ErrForeignDocument)

	err = p.PassOption(qname.Local("missing"), "x")
	require.Error(t, err)
	assert.Equal(t, xproc.ErrorCode("XS0031"), *xproc.CodeOf(err))

	require.NoError(t, p.SetParameter("", qname.Local("dropped"), "x"), "no parameter port")
	require.ErrorIs(t, p.SetParameter("source", qname.Local("x"), "x"), flow.ErrUndeclaredPort)

	writeDoc(t, rt, p, "source", "<doc/>")
	require.NoError(t, p.Run(context.Background()))
	require.ErrorIs(t, p.Run(context.Background()), flow.ErrAlreadyRun)

	pipe, err := p.ReadFrom("result")
	require.NoError(t, err)

	_, err = pipe.Read()
	require.NoError(t, err)
	assert.False(t, pipe.MoreDocuments())

	_, err = pipe.Read()
	require.Error(t, err)
}

type foreignDoc struct{}

func (foreignDoc) BaseURI() string { return "" }
