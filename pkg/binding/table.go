package binding

import (
	"sort"

	"github.com/askiada/pipedriver/pkg/qname"
)

// WildcardPort addresses every parameter port at once.
const WildcardPort = "*"

// InputTable maps ports to the documents bound to them.
type InputTable map[PortRef][]Input

// OutputTable maps ports to their sink.
type OutputTable map[PortRef]Output

// Params maps a port name, or WildcardPort, to parameter values.
type Params map[string]map[qname.QName]string

// Options maps option names to values.
type Options map[qname.QName]string

// Set adds a parameter, creating the port entry when needed.
func (p Params) Set(port string, name qname.QName, value string) {
	if p[port] == nil {
		p[port] = make(map[qname.QName]string)
	}

	p[port][name] = value
}

// Ports returns the ports of p in the order their parameters are applied:
// WildcardPort first, then named ports sorted by name.
func (p Params) Ports() []string {
	ports := make([]string, 0, len(p))
	for port := range p {
		if port != WildcardPort {
			ports = append(ports, port)
		}
	}

	sort.Strings(ports)

	if _, ok := p[WildcardPort]; ok {
		ports = append([]string{WildcardPort}, ports...)
	}

	return ports
}

// Names returns the parameter names of port sorted by their Clark notation.
func (p Params) Names(port string) []qname.QName {
	names := make([]qname.QName, 0, len(p[port]))
	for name := range p[port] {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		return names[i].String() < names[j].String()
	})

	return names
}

// MergeOptions returns configured overlaid with user. Neither argument is
// modified.
func MergeOptions(configured, user Options) Options {
	merged := make(Options, len(configured)+len(user))
	for name, value := range configured {
		merged[name] = value
	}

	for name, value := range user {
		merged[name] = value
	}

	return merged
}

// Origin says which source produced a binding.
type Origin int

const (
	// OriginImplicit bindings come from defaults (stdin, stdout, discard).
	OriginImplicit Origin = iota
	// OriginConfigured bindings come from the configuration.
	OriginConfigured
	// OriginUser bindings come from the user's command line.
	OriginUser
)

func (o Origin) String() string {
	switch o {
	case OriginConfigured:
		return "configured"
	case OriginUser:
		return "user"
	default:
		return "implicit"
	}
}
