package flow

import (
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/askiada/pipedriver/pkg/qname"
	"github.com/askiada/pipedriver/pkg/serialization"
	"github.com/askiada/pipedriver/pkg/xproc"
)

// hclFile is the top-level structure of a definition file.
type hclFile struct {
	Pipelines []*hclPipeline `hcl:"pipeline,block"`
}

type hclPipeline struct {
	Name    string       `hcl:"name,label"`
	Inputs  []*hclInput  `hcl:"input,block"`
	Options []*hclOption `hcl:"option,block"`
	Steps   []*hclStep   `hcl:"step,block"`
	Outputs []*hclOutput `hcl:"output,block"`
}

type hclInput struct {
	Name       string   `hcl:"name,label"`
	Primary    *bool    `hcl:"primary,optional"`
	Sequence   bool     `hcl:"sequence,optional"`
	Parameters bool     `hcl:"parameters,optional"`
	Default    []string `hcl:"default,optional"`
}

type hclOption struct {
	Name     string  `hcl:"name,label"`
	Default  *string `hcl:"default,optional"`
	Required bool    `hcl:"required,optional"`
}

type hclStep struct {
	Kind   string   `hcl:"kind,label"`
	Name   string   `hcl:"name,label"`
	Source string   `hcl:"source,optional"`
	Body   hcl.Body `hcl:",remain"`
}

type hclOutput struct {
	Name          string            `hcl:"name,label"`
	Primary       *bool             `hcl:"primary,optional"`
	Sequence      bool              `hcl:"sequence,optional"`
	From          string            `hcl:"from,optional"`
	Serialization *hclSerialization `hcl:"serialization,block"`
}

type hclSerialization struct {
	Body hcl.Body `hcl:",remain"`
}

// inputDef is a declared input port.
type inputDef struct {
	xproc.Port
	sequence bool
	defaults []*Document
}

// optionDef is a declared option.
type optionDef struct {
	name     qname.QName
	value    *string
	required bool
}

// stepDef is a step bound to its source node.
type stepDef struct {
	kind   stepKind
	name   string
	source string
	body   hcl.Body
}

type outputDef struct {
	xproc.Port
	sequence      bool
	from          string
	serialization *serialization.Settings
}

// definition is a validated pipeline.
type definition struct {
	name    string
	inputs  []*inputDef
	options []*optionDef
	steps   []*stepDef
	outputs []*outputDef
	graph   *stepGraph
}

func staticError(code string, format string, args ...interface{}) error {
	return xproc.WrapError(errors.Errorf(format, args...), xproc.ErrorCode(code), "invalid pipeline")
}

// loadDefinition parses the pipeline called name in the file at path. An
// empty name selects the only pipeline of the file.
func loadDefinition(parser *hclparse.Parser, path, name string) (*definition, error) {
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, xproc.WrapError(diags, xproc.ErrorCode("XS0059"), "unable to parse pipeline "+path)
	}

	var parsed hclFile

	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, xproc.WrapError(diags, xproc.ErrorCode("XS0059"), "unable to decode pipeline "+path)
	}

	pipeline, err := selectPipeline(parsed.Pipelines, name)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return newDefinition(path, pipeline)
}

func selectPipeline(pipelines []*hclPipeline, name string) (*hclPipeline, error) {
	if name == "" {
		if len(pipelines) != 1 {
			return nil, staticError("XS0059", "expected exactly one pipeline, found %d", len(pipelines))
		}

		return pipelines[0], nil
	}

	for _, p := range pipelines {
		if p.Name == name {
			return p, nil
		}
	}

	return nil, staticError("XS0059", "no pipeline named %q", name)
}

func newDefinition(baseURI string, p *hclPipeline) (*definition, error) {
	def := &definition{name: p.Name}
	names := map[string]bool{}

	claim := func(kind, name string) error {
		if names[name] {
			return staticError("XS0002", "%s %q reuses a name already in use", kind, name)
		}

		names[name] = true

		return nil
	}

	for _, in := range p.Inputs {
		if err := claim("input", in.Name); err != nil {
			return nil, err
		}

		input := &inputDef{
			Port:     xproc.Port{Name: in.Name, Parameters: in.Parameters},
			sequence: in.Sequence || in.Parameters,
		}

		for i, raw := range in.Default {
			doc, err := ParseString(raw, baseURI)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to read default %d of input %s", i, in.Name)
			}

			input.defaults = append(input.defaults, doc)
		}

		def.inputs = append(def.inputs, input)
	}

	err := assignPrimaryInputs(def.inputs, p.Inputs)
	if err != nil {
		return nil, err
	}

	err = def.addOptions(p.Options)
	if err != nil {
		return nil, err
	}

	err = def.addSteps(p.Steps, claim)
	if err != nil {
		return nil, err
	}

	err = def.addOutputs(p.Outputs)
	if err != nil {
		return nil, err
	}

	def.graph, err = newStepGraph(def)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// assignPrimaryInputs marks the primary ports. A lone document port, or a lone
// parameter port, is primary unless it says otherwise.
func assignPrimaryInputs(inputs []*inputDef, raw []*hclInput) error {
	var docs, params int

	for _, in := range inputs {
		if in.Parameters {
			params++
		} else {
			docs++
		}
	}

	var primaryDocs, primaryParams int

	for i, in := range inputs {
		switch {
		case raw[i].Primary != nil:
			in.Primary = *raw[i].Primary
		case in.Parameters:
			in.Primary = params == 1
		default:
			in.Primary = docs == 1
		}

		if !in.Primary {
			continue
		}

		if in.Parameters {
			primaryParams++
		} else {
			primaryDocs++
		}
	}

	if primaryDocs > 1 || primaryParams > 1 {
		return staticError("XS0030", "more than one primary input port")
	}

	return nil
}

func (def *definition) addOptions(options []*hclOption) error {
	seen := map[string]bool{}

	for _, opt := range options {
		if seen[opt.Name] {
			return staticError("XS0004", "option %q is declared twice", opt.Name)
		}

		seen[opt.Name] = true

		def.options = append(def.options, &optionDef{
			name:     qname.Local(opt.Name),
			value:    opt.Default,
			required: opt.Required,
		})
	}

	return nil
}

func (def *definition) addSteps(steps []*hclStep, claim func(kind, name string) error) error {
	previous := ""
	if name, ok := xproc.PrimaryInput(def.ports()); ok {
		previous = name
	}

	for _, st := range steps {
		if err := claim("step", st.Name); err != nil {
			return err
		}

		kind, ok := stepKinds[st.Kind]
		if !ok {
			return staticError("XS0010", "step %q has unknown kind %q", st.Name, st.Kind)
		}

		source := st.Source
		if source == "" {
			source = previous
		}

		if source == "" {
			return staticError("XS0003", "step %q has no source", st.Name)
		}

		err := kind.check(st.Body)
		if err != nil {
			return xproc.WrapError(err, xproc.ErrorCode("XS0010"), "invalid arguments for step "+st.Name)
		}

		err = def.checkReferences(st)
		if err != nil {
			return err
		}

		def.steps = append(def.steps, &stepDef{kind: kind, name: st.Name, source: source, body: st.Body})
		previous = st.Name
	}

	return nil
}

// checkReferences rejects step arguments reading an undeclared option or
// anything outside of option and param.
func (def *definition) checkReferences(st *hclStep) error {
	attrs, diags := st.Body.JustAttributes()
	if diags.HasErrors() {
		return xproc.WrapError(diags, xproc.ErrorCode("XS0010"), "invalid arguments for step "+st.Name)
	}

	for _, attr := range attrs {
		for _, traversal := range attr.Expr.Variables() {
			root := traversal.RootName()

			switch root {
			case "param":
			case "option":
				name := ""
				if len(traversal) > 1 {
					if attrStep, ok := traversal[1].(hcl.TraverseAttr); ok {
						name = attrStep.Name
					}
				}

				if def.option(qname.Local(name)) == nil {
					return staticError("XS0031", "step %q reads undeclared option %q", st.Name, name)
				}
			default:
				return staticError("XS0010", "step %q reads unknown variable %q", st.Name, root)
			}
		}
	}

	return nil
}

func (def *definition) addOutputs(outputs []*hclOutput) error {
	last := ""
	if len(def.steps) > 0 {
		last = def.steps[len(def.steps)-1].name
	} else if name, ok := xproc.PrimaryInput(def.ports()); ok {
		last = name
	}

	seen := map[string]bool{}

	var primaries int

	for _, out := range outputs {
		if seen[out.Name] {
			return staticError("XS0011", "output %q is declared twice", out.Name)
		}

		seen[out.Name] = true

		output := &outputDef{
			Port:     xproc.Port{Name: out.Name, Primary: len(outputs) == 1},
			sequence: out.Sequence,
			from:     out.From,
		}

		if out.Primary != nil {
			output.Primary = *out.Primary
		}

		if output.Primary {
			primaries++
		}

		if output.from == "" {
			output.from = last
		}

		if output.from == "" {
			return staticError("XS0006", "output %q has no source", out.Name)
		}

		if out.Serialization != nil {
			settings, err := decodeSerialization(out.Serialization.Body)
			if err != nil {
				return errors.Wrapf(err, "unable to read serialization of output %s", out.Name)
			}

			output.serialization = &settings
		}

		def.outputs = append(def.outputs, output)
	}

	if primaries > 1 {
		return staticError("XS0014", "more than one primary output port")
	}

	return nil
}

// decodeSerialization reads a serialization block. Values of any type are
// converted to strings before being applied.
func decodeSerialization(body hcl.Body) (serialization.Settings, error) {
	settings := serialization.Default()

	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return settings, diags
	}

	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		value, diags := attrs[key].Expr.Value(nil)
		if diags.HasErrors() {
			return settings, diags
		}

		str, err := convert.Convert(value, cty.String)
		if err != nil || str.IsNull() {
			return settings, errors.Errorf("serialization %s must be a string or a bool", key)
		}

		if !settings.Apply(strings.ReplaceAll(key, "_", "-"), str.AsString()) {
			return settings, errors.Errorf("unknown serialization %s", key)
		}
	}

	return settings, nil
}

func (def *definition) ports() []xproc.Port {
	ports := make([]xproc.Port, 0, len(def.inputs))
	for _, in := range def.inputs {
		ports = append(ports, in.Port)
	}

	return ports
}

func (def *definition) outputPorts() []xproc.Port {
	ports := make([]xproc.Port, 0, len(def.outputs))
	for _, out := range def.outputs {
		ports = append(ports, out.Port)
	}

	return ports
}

func (def *definition) input(name string) *inputDef {
	for _, in := range def.inputs {
		if in.Name == name {
			return in
		}
	}

	return nil
}

func (def *definition) output(name string) *outputDef {
	for _, out := range def.outputs {
		if out.Name == name {
			return out
		}
	}

	return nil
}

func (def *definition) option(name qname.QName) *optionDef {
	for _, opt := range def.options {
		if opt.name == name {
			return opt
		}
	}

	return nil
}

func (def *definition) step(name string) *stepDef {
	for _, st := range def.steps {
		if st.name == name {
			return st
		}
	}

	return nil
}
