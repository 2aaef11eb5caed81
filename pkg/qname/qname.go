// Package qname provides namespace-qualified names used for error codes, options,
// parameters and the serialization method.
package qname

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrEmptyName     = errors.New("qualified name must not be empty")
	ErrUnboundPrefix = errors.New("namespace prefix is not bound")
	ErrMalformedName = errors.New("malformed qualified name")
)

// QName is a name in a namespace. An empty Space means no namespace.
type QName struct {
	Space string
	Local string
}

// New creates a QName in the given namespace.
func New(space, local string) QName {
	return QName{Space: space, Local: local}
}

// Local creates a QName without namespace.
func Local(local string) QName {
	return QName{Local: local}
}

// IsZero reports whether the name has no local part.
func (q QName) IsZero() bool {
	return q.Local == ""
}

// String returns the name in Clark notation, {uri}local, or the bare local
// name when there is no namespace.
func (q QName) String() string {
	if q.Space == "" {
		return q.Local
	}

	return "{" + q.Space + "}" + q.Local
}

// Parse reads a name written as {uri}local, prefix:local or local. Prefixes are
// resolved with namespaces, which maps prefix to namespace URI.
func Parse(raw string, namespaces map[string]string) (QName, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return QName{}, ErrEmptyName
	}

	if strings.HasPrefix(raw, "{") {
		end := strings.IndexByte(raw, '}')
		if end < 0 || end == len(raw)-1 {
			return QName{}, errors.Wrapf(ErrMalformedName, "%q", raw)
		}

		return New(raw[1:end], raw[end+1:]), nil
	}

	prefix, local, found := strings.Cut(raw, ":")
	if !found {
		return Local(raw), nil
	}

	if prefix == "" || local == "" || strings.Contains(local, ":") {
		return QName{}, errors.Wrapf(ErrMalformedName, "%q", raw)
	}

	space, ok := namespaces[prefix]
	if !ok {
		return QName{}, errors.Wrapf(ErrUnboundPrefix, "prefix %q in %q", prefix, raw)
	}

	return New(space, local), nil
}
