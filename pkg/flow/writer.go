package flow

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/askiada/pipedriver/pkg/serialization"
	"github.com/askiada/pipedriver/pkg/xproc"
)

const (
	methodXML   = "xml"
	methodXHTML = "xhtml"
	methodHTML  = "html"
	methodText  = "text"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", `"`, "&quot;", "\n", "&#xA;", "\t", "&#x9;")
)

// documentWriter serializes documents one after the other, separated by a
// newline. Close flushes the encoder but leaves the underlying writer open.
type documentWriter struct {
	buf      *bufio.Writer
	encoder  *transform.Writer
	settings serialization.Settings
	written  int
	closed   bool
}

func unsupported(format string, args ...interface{}) error {
	return xproc.WrapError(errors.Errorf(format, args...), xproc.ErrorCode("XD0020"), "unsupported serialization")
}

func newDocumentWriter(w io.Writer, settings serialization.Settings) (*documentWriter, error) {
	if settings.Method.Space != "" {
		return nil, unsupported("method %s", settings.Method)
	}

	switch settings.Method.Local {
	case methodXML, methodXHTML, methodHTML, methodText:
	default:
		return nil, unsupported("method %s", settings.Method)
	}

	switch settings.Standalone {
	case "", "omit", "yes", "no":
	default:
		return nil, unsupported("standalone %q", settings.Standalone)
	}

	switch settings.Version {
	case "", "1.0", "1.1":
	default:
		return nil, unsupported("version %q", settings.Version)
	}

	dw := &documentWriter{settings: settings}

	encoding := settings.Encoding
	if encoding == "" {
		encoding = "UTF-8"
	}

	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, unsupported("encoding %q", settings.Encoding)
	}

	name, err := htmlindex.Name(enc)
	if err != nil || name != "utf-8" {
		dw.encoder = transform.NewWriter(w, enc.NewEncoder())
		w = dw.encoder
	}

	dw.buf = bufio.NewWriter(w)

	return dw, nil
}

func (dw *documentWriter) Write(doc xproc.Document) error {
	if dw.closed {
		return errors.New("document writer is closed")
	}

	d, err := asDocument(doc)
	if err != nil {
		return err
	}

	if dw.written == 0 && dw.settings.ByteOrderMark {
		dw.buf.WriteRune('\uFEFF')
	}

	if dw.written > 0 {
		dw.buf.WriteByte('\n')
	}

	dw.written++

	if dw.settings.Method.Local == methodText {
		_, err = dw.buf.WriteString(d.Text())

		return errors.Wrap(err, "unable to write text")
	}

	dw.writeProlog(d)
	dw.writeTokens(d.tokens)

	return nil
}

func (dw *documentWriter) Close() error {
	if dw.closed {
		return nil
	}

	dw.closed = true

	err := dw.buf.Flush()
	if err != nil {
		return errors.Wrap(err, "unable to flush document writer")
	}

	if dw.encoder != nil {
		err = dw.encoder.Close()
		if err != nil {
			return unsupported("unable to encode output as %s: %v", dw.settings.Encoding, err)
		}
	}

	return nil
}

func (dw *documentWriter) writeProlog(d *Document) {
	s := dw.settings
	if !s.OmitXMLDeclaration {
		version := s.Version
		if version == "" {
			version = "1.0"
		}

		dw.buf.WriteString(`<?xml version="` + version + `" encoding="` + s.Encoding + `"`)

		if s.Standalone == "yes" || s.Standalone == "no" {
			dw.buf.WriteString(` standalone="` + s.Standalone + `"`)
		}

		dw.buf.WriteString("?>\n")
	}

	if s.DoctypeSystem != "" {
		dw.buf.WriteString("<!DOCTYPE " + qualified(d.Root()))

		if s.DoctypePublic != "" {
			dw.buf.WriteString(` PUBLIC "` + s.DoctypePublic + `"`)
		} else {
			dw.buf.WriteString(" SYSTEM")
		}

		dw.buf.WriteString(` "` + s.DoctypeSystem + `">` + "\n")
	}
}

type lastToken int

const (
	lastOther lastToken = iota
	lastStart
	lastEnd
	lastText
)

func (dw *documentWriter) writeTokens(tokens []xml.Token) {
	indent := dw.settings.Indent
	depth := 0
	last := lastOther

	newline := func(level int) {
		dw.buf.WriteByte('\n')
		dw.buf.WriteString(strings.Repeat("  ", level))
	}

	for i := 0; i < len(tokens); i++ {
		switch t := tokens[i].(type) {
		case xml.StartElement:
			if indent && depth > 0 && last != lastText {
				newline(depth)
			}

			dw.buf.WriteString("<" + qualified(t.Name))

			for _, attr := range t.Attr {
				dw.buf.WriteString(" " + qualified(attr.Name) + `="` + attrEscaper.Replace(attr.Value) + `"`)
			}

			if i+1 < len(tokens) {
				if _, ok := tokens[i+1].(xml.EndElement); ok {
					dw.buf.WriteString("/>")

					i++
					last = lastEnd

					continue
				}
			}

			dw.buf.WriteString(">")

			depth++
			last = lastStart
		case xml.EndElement:
			depth--

			if indent && last == lastEnd {
				newline(depth)
			}

			dw.buf.WriteString("</" + qualified(t.Name) + ">")

			last = lastEnd
		case xml.CharData:
			if indent && len(bytes.TrimSpace(t)) == 0 {
				continue
			}

			dw.buf.WriteString(textEscaper.Replace(string(t)))

			last = lastText
		case xml.Comment:
			dw.buf.WriteString("<!--" + string(t) + "-->")

			last = lastOther
		case xml.ProcInst:
			dw.buf.WriteString("<?" + t.Target + " " + string(t.Inst) + "?>")

			last = lastOther
		case xml.Directive:
			dw.buf.WriteString("<!" + string(t) + ">")

			last = lastOther
		}
	}
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}

	return name.Space + ":" + name.Local
}
