package binding

import (
	"sort"

	"github.com/askiada/pipedriver/pkg/xproc"
)

// InputBinding is the documents to write to one declared input port.
type InputBinding struct {
	Port   string
	Inputs []Input
	Origin Origin
}

// InputPlan is the result of the input pass.
type InputPlan struct {
	// Bindings lists the bound ports in declaration order.
	Bindings []InputBinding
	// DefaultPort is the port the unnamed default binding was retargeted to.
	DefaultPort string
	// Unresolved holds the unnamed default binding when it could not be
	// retargeted.
	Unresolved []Input
	// StdinPort is the port that should read one document from standard
	// input when nothing else was written to it.
	StdinPort string
}

// Binding returns the binding of port.
func (p InputPlan) Binding(port string) (InputBinding, bool) {
	for _, b := range p.Bindings {
		if b.Port == port {
			return b, true
		}
	}

	return InputBinding{}, false
}

// ResolveInputs reconciles the configured and user input tables with the
// declared input ports. Neither table is modified.
//
// Named bindings go to their port, the user table replacing the configured
// one for the whole port. The unnamed default binding goes to the only
// primary non-parameter input when that port is not otherwise bound, and is
// left unresolved in every other case. A primary non-parameter input left
// without binding is designated for standard input.
func ResolveInputs(declared []xproc.Port, configured, user InputTable) (InputPlan, error) {
	if err := checkDeclared(declared, DirectionInput, OriginConfigured, namedRefs(configured)); err != nil {
		return InputPlan{}, err
	}

	if err := checkDeclared(declared, DirectionInput, OriginUser, namedRefs(user)); err != nil {
		return InputPlan{}, err
	}

	bound := make(map[string]Origin)

	for ref := range configured {
		if name, ok := ref.Name(); ok {
			bound[name] = OriginConfigured
		}
	}

	for ref := range user {
		if name, ok := ref.Name(); ok {
			bound[name] = OriginUser
		}
	}

	plan := InputPlan{}

	defaults, defaultOrigin, hasDefault := defaultInputs(configured, user)
	if hasDefault {
		qualifying := qualifyingInputs(declared)
		if _, taken := bound[qualifying]; qualifying != "" && !taken {
			plan.DefaultPort = qualifying
			bound[qualifying] = defaultOrigin
		} else {
			plan.Unresolved = append([]Input(nil), defaults...)
		}
	}

	for _, port := range declared {
		origin, ok := bound[port.Name]
		if !ok {
			continue
		}

		var docs []Input

		switch {
		case port.Name == plan.DefaultPort:
			docs = defaults
		case origin == OriginUser:
			docs = user[Named(port.Name)]
		default:
			docs = configured[Named(port.Name)]
		}

		plan.Bindings = append(plan.Bindings, InputBinding{
			Port:   port.Name,
			Inputs: append([]Input(nil), docs...),
			Origin: origin,
		})
	}

	for _, port := range declared {
		if !port.Primary || port.Parameters {
			continue
		}

		if _, ok := bound[port.Name]; !ok {
			plan.StdinPort = port.Name
		}

		break
	}

	return plan, nil
}

// OutputRoute is the sink of one declared output port.
type OutputRoute struct {
	Port   string
	Output Output
	Origin Origin
}

// OutputPlan is the result of the output pass.
type OutputPlan struct {
	// Routes lists every declared output port in declaration order.
	Routes []OutputRoute
}

// ToStdout reports whether any port is routed to standard output.
func (p OutputPlan) ToStdout() bool {
	for _, r := range p.Routes {
		if r.Output.Kind == Stdout {
			return true
		}
	}

	return false
}

// Route returns the route of port.
func (p OutputPlan) Route(port string) (OutputRoute, bool) {
	for _, r := range p.Routes {
		if r.Port == port {
			return r, true
		}
	}

	return OutputRoute{}, false
}

// ResolveOutputs picks the sink of every declared output port. The user
// exact name wins over the configured exact name, which wins over the user
// unnamed default for the primary port. A primary port left without sink
// goes to standard output, any other port is discarded. Neither table is
// modified.
func ResolveOutputs(declared []xproc.Port, configured, user OutputTable) (OutputPlan, error) {
	if err := checkDeclared(declared, DirectionOutput, OriginConfigured, namedRefs(configured)); err != nil {
		return OutputPlan{}, err
	}

	if err := checkDeclared(declared, DirectionOutput, OriginUser, namedRefs(user)); err != nil {
		return OutputPlan{}, err
	}

	plan := OutputPlan{Routes: make([]OutputRoute, 0, len(declared))}

	for _, port := range declared {
		route := OutputRoute{Port: port.Name, Output: DiscardOutput(), Origin: OriginImplicit}

		if out, ok := user[Named(port.Name)]; ok {
			route.Output, route.Origin = out, OriginUser
		} else if out, ok := configured[Named(port.Name)]; ok {
			route.Output, route.Origin = out, OriginConfigured
		} else if out, ok := user[Default()]; ok && port.Primary {
			route.Output, route.Origin = out, OriginUser
		} else if port.Primary {
			route.Output = StdoutOutput()
		}

		route.Output = route.Output.Normalize()
		plan.Routes = append(plan.Routes, route)
	}

	return plan, nil
}

func defaultInputs(configured, user InputTable) ([]Input, Origin, bool) {
	if docs, ok := user[Default()]; ok {
		return docs, OriginUser, true
	}

	if docs, ok := configured[Default()]; ok {
		return docs, OriginConfigured, true
	}

	return nil, OriginImplicit, false
}

// qualifyingInputs returns the only primary non-parameter input, or "" when
// there are none or several.
func qualifyingInputs(declared []xproc.Port) string {
	found := ""

	for _, port := range declared {
		if !port.Primary || port.Parameters {
			continue
		}

		if found != "" {
			return ""
		}

		found = port.Name
	}

	return found
}

// namedRefs returns the sorted port names of a table, skipping the default.
func namedRefs[V any](table map[PortRef]V) []string {
	names := make([]string, 0, len(table))

	for ref := range table {
		if name, ok := ref.Name(); ok {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}

func checkDeclared(declared []xproc.Port, dir Direction, origin Origin, names []string) error {
	for _, name := range names {
		if _, ok := xproc.FindPort(declared, name); !ok {
			return &BindingError{Port: name, Direction: dir, Origin: origin}
		}
	}

	return nil
}
