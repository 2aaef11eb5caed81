package cli

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMissingValue = errors.New("missing value")
	ErrMissingName  = errors.New("missing name")
)

// PortValue is a -i or -o argument. An empty Port is the unnamed default.
type PortValue struct {
	Port  string
	Value string
}

// Param is a -p argument. An empty Port applies to every parameter port.
type Param struct {
	Port  string
	Name  string
	Value string
}

// NameValue is a trailing option argument.
type NameValue struct {
	Name  string
	Value string
}

type portValues []PortValue

func (v *portValues) String() string {
	parts := make([]string, 0, len(*v))
	for _, pv := range *v {
		if pv.Port == "" {
			parts = append(parts, pv.Value)

			continue
		}

		parts = append(parts, pv.Port+"="+pv.Value)
	}

	return strings.Join(parts, ",")
}

func (v *portValues) Set(raw string) error {
	pv, err := parsePortValue(raw)
	if err != nil {
		return err
	}

	*v = append(*v, pv)

	return nil
}

type params []Param

func (p *params) String() string {
	parts := make([]string, 0, len(*p))
	for _, param := range *p {
		name := param.Name
		if param.Port != "" {
			name = param.Port + "@" + name
		}

		parts = append(parts, name+"="+param.Value)
	}

	return strings.Join(parts, ",")
}

func (p *params) Set(raw string) error {
	param, err := parseParam(raw)
	if err != nil {
		return err
	}

	*p = append(*p, param)

	return nil
}

// parsePortValue reads [port=]value. The text before "=" is a port only when
// it looks like a port name, so URIs carrying a query are kept whole.
func parsePortValue(raw string) (PortValue, error) {
	port, value, found := strings.Cut(raw, "=")
	if !found || !isPortName(port) {
		if raw == "" {
			return PortValue{}, ErrMissingValue
		}

		return PortValue{Value: raw}, nil
	}

	if value == "" {
		return PortValue{}, errors.Wrapf(ErrMissingValue, "%q", raw)
	}

	return PortValue{Port: port, Value: value}, nil
}

// parseParam reads [port@]name=value. The "@" separates a port only when it
// comes before any "{" or "=", so {uri}local names and values may hold "@".
func parseParam(raw string) (Param, error) {
	var port string

	rest := raw
	if at := strings.IndexByte(raw, '@'); at >= 0 && !strings.ContainsAny(raw[:at], "{=") {
		port, rest = raw[:at], raw[at+1:]
		if port == "" {
			return Param{}, errors.Wrapf(ErrMissingName, "%q", raw)
		}
	}

	nv, err := parseNameValue(rest)
	if err != nil {
		return Param{}, err
	}

	return Param{Port: port, Name: nv.Name, Value: nv.Value}, nil
}

// parseNameValue reads name=value. A name in {uri}local form may contain "=".
func parseNameValue(raw string) (NameValue, error) {
	start := 0
	if strings.HasPrefix(raw, "{") {
		if end := strings.IndexByte(raw, '}'); end > 0 {
			start = end
		}
	}

	idx := strings.IndexByte(raw[start:], '=')
	if idx < 0 {
		return NameValue{}, errors.Wrapf(ErrMissingValue, "%q", raw)
	}

	name := raw[:start+idx]
	if strings.TrimSpace(name) == "" {
		return NameValue{}, errors.Wrapf(ErrMissingName, "%q", raw)
	}

	return NameValue{Name: name, Value: raw[start+idx+1:]}, nil
}

func isPortName(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}

	return true
}

// isAssignment reports whether a positional argument is an option.
func isAssignment(arg string) bool {
	_, err := parseNameValue(arg)

	return err == nil
}
