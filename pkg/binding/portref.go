package binding

// PortRef addresses a port either by name or as the unnamed default, which
// stands for the primary port of the pipeline.
type PortRef struct {
	name  string
	named bool
}

// Default returns the reference to the unnamed default port.
func Default() PortRef {
	return PortRef{}
}

// Named returns a reference to the port called name.
func Named(name string) PortRef {
	return PortRef{name: name, named: true}
}

// ParsePortRef maps an empty string to Default and anything else to Named.
func ParsePortRef(name string) PortRef {
	if name == "" {
		return Default()
	}

	return Named(name)
}

// Name returns the port name, and false for the default reference.
func (r PortRef) Name() (string, bool) {
	return r.name, r.named
}

// IsDefault reports whether r is the unnamed default.
func (r PortRef) IsDefault() bool {
	return !r.named
}

func (r PortRef) String() string {
	if !r.named {
		return "(default)"
	}

	return r.name
}
