package session

import (
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/binding"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// localPath maps a file URI or a bare path to a file system path. Schemes
// other than file are unsupported.
func localPath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "unable to parse URI %q", raw)
	}

	switch {
	case u.Scheme == "":
		return raw, nil
	case u.Scheme == "file":
		if u.Opaque != "" {
			return u.Opaque, nil
		}

		return filepath.FromSlash(u.Path), nil
	case len(u.Scheme) == 1 && filepath.VolumeName(raw) != "":
		return raw, nil
	default:
		return "", &UnsupportedOperationError{Op: "URI scheme " + u.Scheme + " in " + raw}
	}
}

// openSink returns the writer of out. Standard output and caller streams are
// never closed by the returned closer.
func (s *Session) openSink(out binding.Output) (io.WriteCloser, error) {
	switch out.Kind {
	case binding.Stdout:
		return nopWriteCloser{s.stdout}, nil
	case binding.Stream:
		if out.Writer == nil {
			return nil, &ResourceError{Output: out, Err: errors.New("stream must be set")}
		}

		return nopWriteCloser{out.Writer}, nil
	case binding.URI:
		path, err := localPath(out.URI)
		if err != nil {
			var unsupported *UnsupportedOperationError
			if errors.As(err, &unsupported) {
				return nil, err
			}

			return nil, &ResourceError{Output: out, Err: err}
		}

		f, err := os.Create(path)
		if err != nil {
			return nil, &ResourceError{Output: out, Err: err}
		}

		return f, nil
	default:
		return nil, &UnsupportedOperationError{Op: "output to " + out.Kind.String()}
	}
}

// openInput returns the reader of a URI input. The URI "-" reads standard
// input.
func (s *Session) openInput(uri string) (io.ReadCloser, error) {
	if uri == binding.StdoutURI {
		if s.stdin == nil {
			return nil, errors.New("standard input is not available")
		}

		return io.NopCloser(s.stdin), nil
	}

	path, err := localPath(uri)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input %s", uri)
	}

	return f, nil
}
