package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	code := run(args, strings.NewReader(stdin), &stdout, &stderr)

	return code, stdout.String(), stderr.String()
}

func TestRun(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		args       []string
		stdin      string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		"stdin to stdout": {
			args:       []string{"testdata/wrap.hcl"},
			stdin:      "<doc>in</doc>",
			wantStdout: "<wrapped><doc>in</doc></wrapped>\n",
		},
		"option and input file": {
			args:       []string{"-i", "testdata/doc.xml", "-o", "-", "testdata/wrap.hcl", "wrapper=outer"},
			wantStdout: "<outer><doc>file</doc></outer>\n",
		},
		"configuration file": {
			args:       []string{"-c", "testdata/run.toml"},
			wantStdout: "<configured><doc>file</doc></configured>\n",
		},
		"user overrides configuration": {
			args:       []string{"-c", "testdata/run.toml", "wrapper=user"},
			wantStdout: "<user><doc>file</doc></user>\n",
		},
		"unknown pipeline name": {
			args:       []string{"-i", "testdata/doc.xml", "testdata/wrap.hcl#nope"},
			wantCode:   1,
			wantStderr: "XS0059",
		},
		"step error": {
			args:       []string{"testdata/fail.hcl"},
			wantCode:   1,
			wantStderr: "stopped on purpose (XC0030: It is a dynamic error",
		},
		"missing pipeline file": {
			args:       []string{"testdata/missing.hcl"},
			wantCode:   1,
			wantStderr: "XS0052",
		},
		"undeclared output": {
			args:       []string{"-o", "nope=-", "testdata/wrap.hcl"},
			stdin:      "<doc/>",
			wantCode:   1,
			wantStderr: "nope",
		},
		"no pipeline": {
			wantCode:   1,
			wantStderr: "Usage:",
		},
		"bad flag": {
			args:       []string{"-nope"},
			wantCode:   1,
			wantStderr: "flag provided but not defined",
		},
		"help": {
			args:       []string{"-h"},
			wantStderr: "Usage:",
		},
		"version": {
			args:       []string{"-version"},
			wantStdout: "pipedriver dev\n",
		},
		"bad log level": {
			args:       []string{"-log-level", "loud", "testdata/wrap.hcl"},
			wantCode:   1,
			wantStderr: "unknown log level",
		},
		"unbound prefix": {
			args:       []string{"testdata/wrap.hcl", "ex:wrapper=x"},
			wantCode:   1,
			wantStderr: "namespace prefix is not bound",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			code, stdout, stderr := runCommand(t, tc.stdin, tc.args...)
			assert.Equal(t, tc.wantCode, code, stderr)
			assert.Equal(t, tc.wantStdout, stdout)

			if tc.wantStderr != "" {
				assert.Contains(t, stderr, tc.wantStderr)
			}
		})
	}
}

func TestRunWritesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "out.xml")
	dot := filepath.Join(dir, "run.dot")

	code, stdout, stderr := runCommand(t, "",
		"-i", "testdata/doc.xml", "-o", "result="+out, "-dump-graph", dot, "-measure",
		"testdata/wrap.hcl",
	)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "measure")

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "<wrapped><doc>file</doc></wrapped>", string(got))

	graph, err := os.ReadFile(dot)
	require.NoError(t, err)
	assert.Contains(t, string(graph), "digraph")
	assert.Contains(t, string(graph), `"step outer"`)
}
