// Package xproc defines the narrow contract between the driver and a pipeline
// engine. The driver never looks inside a pipeline: it sees declared ports,
// writes documents to inputs, passes parameters and options, runs it once and
// reads documents from outputs.
package xproc

import (
	"context"
	"io"

	"github.com/askiada/pipedriver/pkg/qname"
	"github.com/askiada/pipedriver/pkg/serialization"
)

// Port is a port declared by a pipeline.
type Port struct {
	Name       string
	Primary    bool
	Parameters bool
}

// Document is an opaque document produced or consumed by an engine.
type Document interface {
	BaseURI() string
}

// ReadablePipe lazily yields the documents of an output port.
type ReadablePipe interface {
	MoreDocuments() bool
	Read() (Document, error)
}

// Pipeline is one loaded pipeline instance.
type Pipeline interface {
	// Inputs returns the declared input ports in declaration order.
	Inputs() []Port
	// Outputs returns the declared output ports in declaration order.
	Outputs() []Port
	// ClearInputs drops every document bound to port, including defaults.
	ClearInputs(port string)
	// WriteTo appends doc to the documents bound to port.
	WriteTo(port string, doc Document) error
	// HasReadablePipes reports whether port has any document bound to it.
	HasReadablePipes(port string) bool
	// SetParameter sets a parameter on port. An empty port targets the primary
	// parameter input port.
	SetParameter(port string, name qname.QName, value string) error
	// PassOption sets a pipeline option.
	PassOption(name qname.QName, value string) error
	// Run executes the pipeline. It must be called at most once.
	Run(ctx context.Context) error
	// ReadFrom returns the documents produced on port.
	ReadFrom(port string) (ReadablePipe, error)
	// Serialization returns the settings the pipeline declares for port, or nil.
	Serialization(port string) *serialization.Settings
}

// DocumentWriter serializes documents to an underlying writer. Close flushes
// but never closes the underlying writer.
type DocumentWriter interface {
	Write(doc Document) error
	Close() error
}

// Runtime is one engine instance. A runtime loads pipelines, parses input
// documents and builds serializers, and must be closed once done.
type Runtime interface {
	Load(ctx context.Context, uri string) (Pipeline, error)
	Parse(r io.Reader, baseURI string) (Document, error)
	NewDocumentWriter(w io.Writer, settings serialization.Settings) (DocumentWriter, error)
	Close() error
}

// Engine creates independent runtimes.
type Engine interface {
	NewRuntime(ctx context.Context) (Runtime, error)
}

// PrimaryInput returns the name of the first primary input port that is not a
// parameter port.
func PrimaryInput(ports []Port) (string, bool) {
	for _, p := range ports {
		if p.Primary && !p.Parameters {
			return p.Name, true
		}
	}

	return "", false
}

// PrimaryOutput returns the name of the first primary output port.
func PrimaryOutput(ports []Port) (string, bool) {
	for _, p := range ports {
		if p.Primary {
			return p.Name, true
		}
	}

	return "", false
}

// FindPort returns the port called name.
func FindPort(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}

	return Port{}, false
}
