// Package serialization holds the knobs that control how output documents are
// rendered to bytes, and the rule that picks them for an output port.
package serialization

import (
	"github.com/askiada/pipedriver/pkg/qname"
)

// Recognized option names.
const (
	KeyByteOrderMark       = "byte-order-mark"
	KeyEscapeURIAttributes = "escape-uri-attributes"
	KeyIncludeContentType  = "include-content-type"
	KeyIndent              = "indent"
	KeyOmitXMLDeclaration  = "omit-xml-declaration"
	KeyUndeclarePrefixes   = "undeclare-prefixes"
	KeyMethod              = "method"
	KeyDoctypePublic       = "doctype-public"
	KeyDoctypeSystem       = "doctype-system"
	KeyEncoding            = "encoding"
	KeyMediaType           = "media-type"
	KeyNormalizationForm   = "normalization-form"
	KeyStandalone          = "standalone"
	KeyVersion             = "version"
)

// Settings is the full set of serialization knobs for one output port.
type Settings struct {
	ByteOrderMark       bool
	EscapeURIAttributes bool
	IncludeContentType  bool
	Indent              bool
	OmitXMLDeclaration  bool
	UndeclarePrefixes   bool

	Method            qname.QName
	DoctypePublic     string
	DoctypeSystem     string
	Encoding          string
	MediaType         string
	NormalizationForm string
	Standalone        string
	Version           string
}

// Default returns the engine defaults.
func Default() Settings {
	return Settings{
		IncludeContentType: true,
		OmitXMLDeclaration: true,
		Method:             qname.Local("xml"),
		Encoding:           "UTF-8",
		MediaType:          "application/xml",
		NormalizationForm:  "none",
		Standalone:         "omit",
		Version:            "1.0",
	}
}

// Keys returns every recognized option name.
func Keys() []string {
	return []string{
		KeyByteOrderMark, KeyEscapeURIAttributes, KeyIncludeContentType, KeyIndent,
		KeyOmitXMLDeclaration, KeyUndeclarePrefixes, KeyMethod, KeyDoctypePublic,
		KeyDoctypeSystem, KeyEncoding, KeyMediaType, KeyNormalizationForm,
		KeyStandalone, KeyVersion,
	}
}

// Apply sets the knob named key. Boolean knobs are true only for the literal
// "true". It reports false, leaving s untouched, when key is not recognized.
func (s *Settings) Apply(key, value string) bool {
	switch key {
	case KeyByteOrderMark:
		s.ByteOrderMark = value == "true"
	case KeyEscapeURIAttributes:
		s.EscapeURIAttributes = value == "true"
	case KeyIncludeContentType:
		s.IncludeContentType = value == "true"
	case KeyIndent:
		s.Indent = value == "true"
	case KeyOmitXMLDeclaration:
		s.OmitXMLDeclaration = value == "true"
	case KeyUndeclarePrefixes:
		s.UndeclarePrefixes = value == "true"
	case KeyMethod:
		s.Method = qname.New("", value)
	case KeyDoctypePublic:
		s.DoctypePublic = value
	case KeyDoctypeSystem:
		s.DoctypeSystem = value
	case KeyEncoding:
		s.Encoding = value
	case KeyMediaType:
		s.MediaType = value
	case KeyNormalizationForm:
		s.NormalizationForm = value
	case KeyStandalone:
		s.Standalone = value
	case KeyVersion:
		s.Version = value
	default:
		return false
	}

	return true
}

// FromOptions starts from Default and applies every recognized key of opts.
// Unknown keys are ignored.
func FromOptions(opts map[string]string) Settings {
	s := Default()
	for key, value := range opts {
		s.Apply(key, value)
	}

	return s
}

// Resolve returns the settings for an output port. Settings declared by the
// pipeline win outright and are returned as is; global options are only used
// when the pipeline declares nothing for the port. The two are never merged.
func Resolve(declared *Settings, globals map[string]string) Settings {
	if declared != nil {
		return *declared
	}

	return FromOptions(globals)
}
