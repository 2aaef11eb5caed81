// Package errmsg ties pipeline error codes to human readable messages.
//
// The registry is loaded once from a code to message table, by default the
// error-list.xml bundled in this package, and is read-only afterwards except for
// the fallback message returned for codes it does not know.
package errmsg

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/qname"
)

// DefaultUnknownMessage is returned for absent or unregistered codes.
const DefaultUnknownMessage = "Unknown error"

// Namespace is the namespace of the error elements in the table.
const Namespace = "http://www.w3.org/ns/xproc-error"

var (
	ErrTableMissing   = errors.New("error table is missing")
	ErrTableMalformed = errors.New("error table is malformed")
)

//go:embed error-list.xml
var bundledTable []byte

// Registry maps error code local names to messages.
type Registry struct {
	messages map[string]string

	mu      sync.RWMutex
	unknown string
}

// New reads a table of {http://www.w3.org/ns/xproc-error}error elements, each
// carrying a code attribute and the message as its text content. Error
// elements may appear at any depth.
func New(r io.Reader) (*Registry, error) {
	if r == nil {
		return nil, ErrTableMissing
	}

	messages, err := readTable(r)
	if err != nil {
		return nil, err
	}

	return &Registry{
		messages: messages,
		unknown:  DefaultUnknownMessage,
	}, nil
}

// Load builds a registry from the bundled table.
func Load() (*Registry, error) {
	if len(bundledTable) == 0 {
		return nil, errors.Wrap(ErrTableMissing, "bundled error-list.xml")
	}

	reg, err := New(bytes.NewReader(bundledTable))
	if err != nil {
		return nil, errors.Wrap(err, "unable to load bundled error-list.xml")
	}

	return reg, nil
}

// MustLoad is like Load but panics when the bundled table cannot be read.
func MustLoad() *Registry {
	reg, err := Load()
	if err != nil {
		panic(err)
	}

	return reg
}

// Len returns the number of registered codes.
func (r *Registry) Len() int {
	return len(r.messages)
}

// Lookup returns the message registered for code, or the fallback message when
// code is nil or unknown. Only the local name of the code is considered.
func (r *Registry) Lookup(code *qname.QName) string {
	if code != nil {
		if msg, ok := r.messages[code.Local]; ok {
			return msg
		}
	}

	return r.UnknownMessage()
}

// CodeAndMessage returns "<local>: <message>", or only the message when code
// is nil.
func (r *Registry) CodeAndMessage(code *qname.QName) string {
	msg := r.Lookup(code)
	if code == nil {
		return msg
	}

	return code.Local + ": " + msg
}

// Format combines a raw error message with the registered one. An empty raw
// message yields CodeAndMessage alone, otherwise "<raw> (<CodeAndMessage>)".
func (r *Registry) Format(code *qname.QName, raw string) string {
	codeAndMessage := r.CodeAndMessage(code)
	if raw == "" {
		return codeAndMessage
	}

	return raw + " (" + codeAndMessage + ")"
}

// UnknownMessage returns the current fallback message.
func (r *Registry) UnknownMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.unknown
}

// SetUnknownMessage replaces the fallback message. An empty message restores
// DefaultUnknownMessage.
func (r *Registry) SetUnknownMessage(msg string) {
	if msg == "" {
		msg = DefaultUnknownMessage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.unknown = msg
}

func readTable(r io.Reader) (map[string]string, error) {
	dec := xml.NewDecoder(r)
	messages := make(map[string]string)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, errors.Wrap(ErrTableMalformed, err.Error())
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != Namespace || start.Name.Local != "error" {
			continue
		}

		code := attr(start, "code")
		if code == "" {
			return nil, errors.Wrap(ErrTableMalformed, "error element without code")
		}

		text, err := stringValue(dec)
		if err != nil {
			return nil, errors.Wrapf(ErrTableMalformed, "code %s: %s", code, err)
		}

		messages[code] = text
	}

	return messages, nil
}

func attr(start xml.StartElement, local string) string {
	for _, a := range start.Attr {
		if a.Name.Space == "" && a.Name.Local == local {
			return strings.TrimSpace(a.Value)
		}
	}

	return ""
}

// stringValue consumes the element whose start tag was just read and returns
// its descendant text with whitespace runs collapsed.
func stringValue(dec *xml.Decoder) (string, error) {
	var buf strings.Builder

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			buf.Write(t)
		}
	}

	return strings.Join(strings.Fields(buf.String()), " "), nil
}
