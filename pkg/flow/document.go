package flow

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/xproc"
)

// StepNamespace is the namespace of the c:result and c:param-set documents
// built by steps.
const StepNamespace = "http://www.w3.org/ns/xproc-step"

var (
	ErrNoRootElement      = errors.New("document has no root element")
	ErrManyRootElements   = errors.New("document has more than one root element")
	ErrUnbalancedElements = errors.New("document has unbalanced elements")
	ErrTextOutsideRoot    = errors.New("document has text outside of the root element")
	ErrForeignDocument    = errors.New("document was not created by this engine")
)

// Document is a well-formed XML document kept as raw tokens. Element and
// attribute names keep their prefix in Name.Space, so writing the tokens back
// reproduces the namespace declarations of the source.
type Document struct {
	baseURI string
	tokens  []xml.Token
}

// BaseURI returns the URI the document was read from.
func (d *Document) BaseURI() string {
	return d.baseURI
}

// Root returns the name of the root element.
func (d *Document) Root() xml.Name {
	for _, tok := range d.tokens {
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name
		}
	}

	return xml.Name{}
}

// Text returns the character data of the document.
func (d *Document) Text() string {
	var sb strings.Builder

	for _, tok := range d.tokens {
		if cd, ok := tok.(xml.CharData); ok {
			sb.Write(cd)
		}
	}

	return sb.String()
}

// Parse reads a document from r. The XML declaration is dropped.
func Parse(r io.Reader, baseURI string) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{baseURI: baseURI}

	var (
		open  []xml.Name
		roots int
	)

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, notWellFormed(err, baseURI)
		}

		switch t := tok.(type) {
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
		case xml.StartElement:
			if len(open) == 0 {
				roots++
				if roots > 1 {
					return nil, notWellFormed(ErrManyRootElements, baseURI)
				}
			}

			open = append(open, t.Name)
		case xml.EndElement:
			if len(open) == 0 || open[len(open)-1] != t.Name {
				return nil, notWellFormed(ErrUnbalancedElements, baseURI)
			}

			open = open[:len(open)-1]
		case xml.CharData:
			if len(open) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, notWellFormed(ErrTextOutsideRoot, baseURI)
				}

				continue
			}
		}

		doc.tokens = append(doc.tokens, xml.CopyToken(tok))
	}

	switch {
	case len(open) != 0:
		return nil, notWellFormed(ErrUnbalancedElements, baseURI)
	case roots == 0:
		return nil, notWellFormed(ErrNoRootElement, baseURI)
	}

	return doc, nil
}

// ParseString reads a document from s.
func ParseString(s, baseURI string) (*Document, error) {
	return Parse(strings.NewReader(s), baseURI)
}

func notWellFormed(err error, baseURI string) error {
	return xproc.WrapError(err, xproc.ErrorCode("XD0011"), "unable to read "+baseURI)
}

// NewElementDocument builds a document made of one element named name in the
// namespace bound to prefix. An empty prefix leaves the element unqualified.
func NewElementDocument(baseURI, prefix, namespace, name string, children ...xml.Token) *Document {
	start := xml.StartElement{Name: xml.Name{Space: prefix, Local: name}}

	switch {
	case prefix != "":
		start.Attr = []xml.Attr{{Name: xml.Name{Space: "xmlns", Local: prefix}, Value: namespace}}
	case namespace != "":
		start.Attr = []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: namespace}}
	}

	tokens := make([]xml.Token, 0, len(children)+2)
	tokens = append(tokens, start)
	tokens = append(tokens, children...)
	tokens = append(tokens, start.End())

	return &Document{baseURI: baseURI, tokens: tokens}
}

// Wrap returns a copy of d whose root is wrapped in a new element. The name is
// written as given, so a prefixed name must be bound by the wrapped content.
func Wrap(d *Document, name string) *Document {
	start := xml.StartElement{Name: splitName(name)}

	tokens := make([]xml.Token, 0, len(d.tokens)+2)
	tokens = append(tokens, start)
	tokens = append(tokens, d.tokens...)
	tokens = append(tokens, start.End())

	return &Document{baseURI: d.baseURI, tokens: tokens}
}

func splitName(raw string) xml.Name {
	prefix, local, found := strings.Cut(raw, ":")
	if !found {
		return xml.Name{Local: raw}
	}

	return xml.Name{Space: prefix, Local: local}
}

func asDocument(doc xproc.Document) (*Document, error) {
	d, ok := doc.(*Document)
	if !ok || d == nil {
		return nil, ErrForeignDocument
	}

	return d, nil
}
