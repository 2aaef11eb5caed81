// Package cli reads the command line of pipedriver.
package cli

import (
	_ "embed"
	"flag"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/askiada/pipedriver/pkg/binding"
	"github.com/askiada/pipedriver/pkg/driver"
	"github.com/askiada/pipedriver/pkg/qname"
)

// Version is set at build time with -ldflags.
var Version = "dev"

//go:embed usage.txt
var usage string

// ExitError carries the exit code of an argument error.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Args holds the parsed command line.
type Args struct {
	Pipeline   string
	ConfigPath string
	Debug      bool
	LogLevel   string
	DumpGraph  string
	Measure    bool
	Version    bool

	Inputs  []PortValue
	Outputs []PortValue
	Params  []Param
	Options []NameValue
}

func newFlagSet(output io.Writer, args *Args) (*flag.FlagSet, *portValues, *portValues, *params) {
	fs := flag.NewFlagSet("pipedriver", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fs.PrintDefaults()
	}

	inputs := new(portValues)
	outputs := new(portValues)
	prms := new(params)

	fs.Var(inputs, "i", "bind `[port=]uri` to an input port")
	fs.Var(outputs, "o", "route an output port to `[port=]uri`")
	fs.Var(prms, "p", "set the parameter `[port@]name=value`")
	fs.StringVar(&args.ConfigPath, "c", "", "read the configuration `file` (TOML, or YAML by extension)")
	fs.BoolVar(&args.Debug, "D", false, "debug mode")
	fs.StringVar(&args.LogLevel, "log-level", "", "log `level`: trace, debug, info, warn or error")
	fs.StringVar(&args.DumpGraph, "dump-graph", "", "write the run graph as DOT to `file`")
	fs.BoolVar(&args.Measure, "measure", false, "log the duration and document count of every step")
	fs.BoolVar(&args.Version, "version", false, "print the version and exit")

	return fs, inputs, outputs, prms
}

// Parse reads args. It returns true when the program should exit cleanly,
// which is the case for -h.
func Parse(args []string, output io.Writer) (*Args, bool, error) {
	parsed := &Args{}
	fs, inputs, outputs, prms := newFlagSet(output, parsed)

	err := fs.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}

		return nil, false, &ExitError{Code: 1, Message: err.Error()}
	}

	parsed.Inputs = *inputs
	parsed.Outputs = *outputs
	parsed.Params = *prms

	for _, arg := range fs.Args() {
		if isAssignment(arg) {
			nv, _ := parseNameValue(arg)
			parsed.Options = append(parsed.Options, nv)

			continue
		}

		if parsed.Pipeline != "" {
			fs.Usage()

			return nil, false, &ExitError{Code: 1, Message: fmt.Sprintf("unexpected argument %q", arg)}
		}

		parsed.Pipeline = arg
	}

	return parsed, false, nil
}

// Usage writes the usage text to w.
func Usage(w io.Writer) {
	fs, _, _, _ := newFlagSet(w, &Args{})
	fs.Usage()
}

// Bindings converts the user arguments. Qualified names use namespaces.
func (a *Args) Bindings(namespaces map[string]string) (driver.Bindings, error) {
	b := driver.Bindings{
		Inputs:  binding.InputTable{},
		Outputs: binding.OutputTable{},
		Params:  binding.Params{},
		Options: binding.Options{},
	}

	for _, in := range a.Inputs {
		ref := binding.ParsePortRef(in.Port)
		b.Inputs[ref] = append(b.Inputs[ref], binding.URIInput(in.Value))
	}

	for _, out := range a.Outputs {
		b.Outputs[binding.ParsePortRef(out.Port)] = binding.ParseOutput(out.Value)
	}

	for _, p := range a.Params {
		name, err := qname.Parse(p.Name, namespaces)
		if err != nil {
			return driver.Bindings{}, errors.Wrapf(err, "unable to read parameter name %s", p.Name)
		}

		port := p.Port
		if port == "" {
			port = binding.WildcardPort
		}

		b.Params.Set(port, name, p.Value)
	}

	for _, opt := range a.Options {
		name, err := qname.Parse(opt.Name, namespaces)
		if err != nil {
			return driver.Bindings{}, errors.Wrapf(err, "unable to read option name %s", opt.Name)
		}

		b.Options[name] = opt.Value
	}

	return b, nil
}
