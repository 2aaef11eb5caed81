package binding

import (
	"fmt"
	"io"

	"github.com/askiada/pipedriver/pkg/xproc"
)

// StdoutURI is the URI that stands for the standard output stream.
const StdoutURI = "-"

// InputKind says where an input document comes from.
type InputKind int

const (
	// InputURI is a document to load from a URI or file path.
	InputURI InputKind = iota
	// InputStream is a document to parse from a reader.
	InputStream
	// InputDocument is an already parsed document.
	InputDocument
)

// Input is one document bound to an input port.
type Input struct {
	Kind     InputKind
	URI      string
	Reader   io.Reader
	Document xproc.Document
}

// URIInput returns an input read from uri.
func URIInput(uri string) Input {
	return Input{Kind: InputURI, URI: uri}
}

// StreamInput returns an input parsed from r. baseURI may be empty.
func StreamInput(r io.Reader, baseURI string) Input {
	return Input{Kind: InputStream, Reader: r, URI: baseURI}
}

// DocumentInput returns an input holding doc.
func DocumentInput(doc xproc.Document) Input {
	return Input{Kind: InputDocument, Document: doc}
}

func (i Input) String() string {
	switch i.Kind {
	case InputURI:
		return i.URI
	case InputStream:
		if i.URI != "" {
			return "stream " + i.URI
		}

		return "stream"
	case InputDocument:
		if i.Document != nil && i.Document.BaseURI() != "" {
			return "document " + i.Document.BaseURI()
		}

		return "document"
	default:
		return fmt.Sprintf("input kind %d", i.Kind)
	}
}

// OutputKind says where output documents go.
type OutputKind int

const (
	// Discard drops the documents.
	Discard OutputKind = iota
	// Stdout writes to the process standard output.
	Stdout
	// URI writes to a file URI or path.
	URI
	// Stream writes to a caller supplied writer.
	Stream
)

func (k OutputKind) String() string {
	switch k {
	case Discard:
		return "discard"
	case Stdout:
		return "stdout"
	case URI:
		return "uri"
	case Stream:
		return "stream"
	default:
		return fmt.Sprintf("output kind %d", int(k))
	}
}

// Output is the sink of an output port.
type Output struct {
	Kind   OutputKind
	URI    string
	Writer io.Writer
}

// DiscardOutput drops everything.
func DiscardOutput() Output {
	return Output{Kind: Discard}
}

// StdoutOutput writes to standard output.
func StdoutOutput() Output {
	return Output{Kind: Stdout}
}

// URIOutput writes to uri. The URI "-" is standard output once normalized.
func URIOutput(uri string) Output {
	return Output{Kind: URI, URI: uri}
}

// StreamOutput writes to w.
func StreamOutput(w io.Writer) Output {
	return Output{Kind: Stream, Writer: w}
}

// ParseOutput reads a sink as written on a command line or in a
// configuration file. An empty string discards.
func ParseOutput(raw string) Output {
	if raw == "" {
		return DiscardOutput()
	}

	return URIOutput(raw).Normalize()
}

// Normalize maps the URI "-" to the standard output sink.
func (o Output) Normalize() Output {
	if o.Kind == URI && o.URI == StdoutURI {
		return StdoutOutput()
	}

	return o
}

func (o Output) String() string {
	switch o.Kind {
	case URI:
		return o.URI
	case Stream:
		return fmt.Sprintf("%T stream", o.Writer)
	default:
		return o.Kind.String()
	}
}
