package errmsg_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/pipedriver/pkg/errmsg"
	"github.com/askiada/pipedriver/pkg/qname"
)

const smallTable = `<errors xmlns="http://www.w3.org/ns/xproc-error">
  <error code="XS0001">Loops are
     not allowed.</error>
  <group><error code="XC0039">Sequence <b>not</b> accepted.</error></group>
  <other code="XD0002">ignored</other>
</errors>`

func code(local string) *qname.QName {
	q := qname.New(errmsg.Namespace, local)

	return &q
}

func TestNew(t *testing.T) {
	t.Parallel()

	reg, err := errmsg.New(strings.NewReader(smallTable))
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, "Loops are not allowed.", reg.Lookup(code("XS0001")))
	assert.Equal(t, "Sequence not accepted.", reg.Lookup(code("XC0039")))
	assert.Equal(t, errmsg.DefaultUnknownMessage, reg.Lookup(code("XD0002")))
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		table string
		err   error
	}{
		"truncated":    {table: `<errors xmlns="http://www.w3.org/ns/xproc-error"><error code="X">`, err: errmsg.ErrTableMalformed},
		"missing code": {table: `<errors xmlns="http://www.w3.org/ns/xproc-error"><error>x</error></errors>`, err: errmsg.ErrTableMalformed},
		"not xml":      {table: `<<<`, err: errmsg.ErrTableMalformed},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := errmsg.New(strings.NewReader(tc.table))
			require.ErrorIs(t, err, tc.err)
		})
	}

	_, err := errmsg.New(nil)
	require.ErrorIs(t, err, errmsg.ErrTableMissing)
}

func TestLoadBundled(t *testing.T) {
	t.Parallel()

	reg, err := errmsg.Load()
	require.NoError(t, err)
	assert.Positive(t, reg.Len())
	assert.Contains(t, reg.Lookup(code("XD0006")), "exactly one document")
	assert.NotPanics(t, func() { errmsg.MustLoad() })
}

func TestLookupFallback(t *testing.T) {
	t.Parallel()

	reg, err := errmsg.New(strings.NewReader(smallTable))
	require.NoError(t, err)

	assert.Equal(t, "Unknown error", reg.Lookup(nil))
	assert.Equal(t, "Unknown error", reg.Lookup(code("XD0001")))
	assert.Equal(t, "XD0001: Unknown error", reg.CodeAndMessage(code("XD0001")))

	reg.SetUnknownMessage("no idea")
	assert.Equal(t, "no idea", reg.Lookup(code("XD0001")))
	assert.Equal(t, "XD0001: no idea", reg.CodeAndMessage(code("XD0001")))

	reg.SetUnknownMessage("")
	assert.Equal(t, errmsg.DefaultUnknownMessage, reg.UnknownMessage())
}

func TestLookupIgnoresNamespace(t *testing.T) {
	t.Parallel()

	reg, err := errmsg.New(strings.NewReader(smallTable))
	require.NoError(t, err)

	other := qname.New("urn:other", "XS0001")
	assert.Equal(t, "Loops are not allowed.", reg.Lookup(&other))
}

func TestFormat(t *testing.T) {
	t.Parallel()

	reg, err := errmsg.New(strings.NewReader(smallTable))
	require.NoError(t, err)

	tcs := map[string]struct {
		code     *qname.QName
		raw      string
		expected string
	}{
		"code only":      {code: code("XS0001"), expected: "XS0001: Loops are not allowed."},
		"code and raw":   {code: code("XS0001"), raw: "step loops", expected: "step loops (XS0001: Loops are not allowed.)"},
		"no code":        {raw: "boom", expected: "boom (Unknown error)"},
		"nothing":        {expected: "Unknown error"},
		"unknown code":   {code: code("XD0001"), expected: "XD0001: Unknown error"},
		"unknown w/ raw": {code: code("XD0001"), raw: "bad", expected: "bad (XD0001: Unknown error)"},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, reg.Format(tc.code, tc.raw))
		})
	}
}

func TestSetUnknownMessageConcurrent(t *testing.T) {
	t.Parallel()

	reg, err := errmsg.New(strings.NewReader(smallTable))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)

		go func() {
			defer wg.Done()
			reg.SetUnknownMessage(strings.Repeat("x", i+1))
		}()

		go func() {
			defer wg.Done()
			_ = reg.Lookup(nil)
		}()
	}

	wg.Wait()
	assert.NotEmpty(t, reg.UnknownMessage())
}
