// Package config loads the configuration file of the command line. TOML is
// the default format; files ending in .yaml or .yml are read as YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/askiada/pipedriver/internal/logging"
	"github.com/askiada/pipedriver/pkg/binding"
	"github.com/askiada/pipedriver/pkg/driver"
	"github.com/askiada/pipedriver/pkg/qname"
)

var (
	ErrEmptyPort  = errors.New("port name must not be empty")
	ErrEmptyURI   = errors.New("URI must not be empty")
	ErrEmptyName  = errors.New("name must not be empty")
	ErrInvalidURI = errors.New("URI list must be a string or a list of strings")
)

// Config is the content of a configuration file.
type Config struct {
	Pipeline      string
	Debug         bool
	LogLevel      string
	Input         []string
	Inputs        map[string][]string
	Outputs       map[string]string
	Params        map[string]map[string]string
	Options       map[string]string
	Serialization map[string]string
	Namespaces    map[string]string
	DumpGraph     string
	Measure       bool
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:      "info",
		Inputs:        map[string][]string{},
		Outputs:       map[string]string{},
		Params:        map[string]map[string]string{},
		Options:       map[string]string{},
		Serialization: map[string]string{},
		Namespaces:    map[string]string{},
	}
}

type fileConfig struct {
	Pipeline      string                            `toml:"pipeline" yaml:"pipeline"`
	Debug         bool                              `toml:"debug" yaml:"debug"`
	LogLevel      string                            `toml:"log_level" yaml:"log_level"`
	Input         interface{}                       `toml:"input" yaml:"input"`
	Inputs        map[string]interface{}            `toml:"inputs" yaml:"inputs"`
	Outputs       map[string]string                 `toml:"outputs" yaml:"outputs"`
	Params        map[string]map[string]interface{} `toml:"params" yaml:"params"`
	Options       map[string]interface{}            `toml:"options" yaml:"options"`
	Serialization map[string]interface{}            `toml:"serialization" yaml:"serialization"`
	Namespaces    map[string]string                 `toml:"namespaces" yaml:"namespaces"`
	DumpGraph     string                            `toml:"dump_graph" yaml:"dump_graph"`
	Measure       bool                              `toml:"measure" yaml:"measure"`
}

// isDefined reports whether a top-level key was set in the file.
type isDefined func(key string) bool

// Load reads the file at path over Default. Relative paths in the file are
// resolved against the directory of the file.
func Load(path string) (Config, error) {
	var (
		raw     fileConfig
		defined isDefined
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "unable to read config %s", path)
		}

		var keys map[string]interface{}

		err = yaml.Unmarshal(data, &keys)
		if err != nil {
			return Config{}, errors.Wrapf(err, "unable to parse config %s", path)
		}

		err = yaml.Unmarshal(data, &raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "unable to decode config %s", path)
		}

		defined = func(key string) bool {
			_, ok := keys[key]

			return ok
		}
	default:
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "unable to load config %s", path)
		}

		defined = func(key string) bool { return meta.IsDefined(key) }
	}

	cfg, err := overlay(Default(), raw, defined)
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}

	return cfg.resolve(filepath.Dir(path)), nil
}

func overlay(cfg Config, raw fileConfig, defined isDefined) (Config, error) {
	if defined("pipeline") {
		cfg.Pipeline = strings.TrimSpace(raw.Pipeline)
	}

	if defined("debug") {
		cfg.Debug = raw.Debug
	}

	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if defined("input") {
		uris, err := stringList(raw.Input)
		if err != nil {
			return cfg, errors.Wrap(err, "input")
		}

		cfg.Input = uris
	}

	for port, value := range raw.Inputs {
		uris, err := stringList(value)
		if err != nil {
			return cfg, errors.Wrapf(err, "inputs.%s", port)
		}

		cfg.Inputs[port] = uris
	}

	for port, uri := range raw.Outputs {
		cfg.Outputs[port] = uri
	}

	for port, values := range raw.Params {
		cfg.Params[port] = stringMap(values)
	}

	for name, value := range stringMap(raw.Options) {
		cfg.Options[name] = value
	}

	for name, value := range stringMap(raw.Serialization) {
		cfg.Serialization[name] = value
	}

	for prefix, uri := range raw.Namespaces {
		cfg.Namespaces[prefix] = uri
	}

	if defined("dump_graph") {
		cfg.DumpGraph = strings.TrimSpace(raw.DumpGraph)
	}

	if defined("measure") {
		cfg.Measure = raw.Measure
	}

	return cfg, nil
}

func stringList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))

		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, ErrInvalidURI
			}

			out = append(out, s)
		}

		return out, nil
	default:
		return nil, ErrInvalidURI
	}
}

// stringMap formats every value, so that indent = true and indent = "true"
// read the same.
func stringMap(in map[string]interface{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}

	return out
}

// resolve makes the local paths of cfg relative to dir.
func (cfg Config) resolve(dir string) Config {
	cfg.Pipeline = resolvePath(dir, cfg.Pipeline)
	cfg.DumpGraph = resolvePath(dir, cfg.DumpGraph)

	input := make([]string, len(cfg.Input))
	for i, uri := range cfg.Input {
		input[i] = resolvePath(dir, uri)
	}

	cfg.Input = input

	inputs := make(map[string][]string, len(cfg.Inputs))
	for port, uris := range cfg.Inputs {
		resolved := make([]string, len(uris))
		for i, uri := range uris {
			resolved[i] = resolvePath(dir, uri)
		}

		inputs[port] = resolved
	}

	cfg.Inputs = inputs

	outputs := make(map[string]string, len(cfg.Outputs))
	for port, uri := range cfg.Outputs {
		outputs[port] = resolvePath(dir, uri)
	}

	cfg.Outputs = outputs

	return cfg
}

// resolvePath joins a relative local path to dir. Empty values, standard
// streams, absolute paths and URIs with a scheme are kept.
func resolvePath(dir, uri string) string {
	switch {
	case uri == "", uri == binding.StdoutURI:
		return uri
	case strings.Contains(uri, "://"), strings.HasPrefix(uri, "file:"):
		return uri
	case filepath.IsAbs(uri):
		return uri
	default:
		return filepath.Join(dir, uri)
	}
}

// Validate rejects empty names and URIs and unknown log levels.
func (cfg Config) Validate() error {
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	for _, uri := range cfg.Input {
		if strings.TrimSpace(uri) == "" {
			return errors.Wrap(ErrEmptyURI, "input")
		}
	}

	for _, port := range sortedKeys(cfg.Inputs) {
		if strings.TrimSpace(port) == "" {
			return errors.Wrap(ErrEmptyPort, "inputs")
		}

		for _, uri := range cfg.Inputs[port] {
			if strings.TrimSpace(uri) == "" {
				return errors.Wrapf(ErrEmptyURI, "inputs.%s", port)
			}
		}
	}

	for _, port := range sortedKeys(cfg.Outputs) {
		if strings.TrimSpace(port) == "" {
			return errors.Wrap(ErrEmptyPort, "outputs")
		}

		if strings.TrimSpace(cfg.Outputs[port]) == "" {
			return errors.Wrapf(ErrEmptyURI, "outputs.%s", port)
		}
	}

	for _, port := range sortedKeys(cfg.Params) {
		if strings.TrimSpace(port) == "" {
			return errors.Wrap(ErrEmptyPort, "params")
		}

		for name := range cfg.Params[port] {
			if strings.TrimSpace(name) == "" {
				return errors.Wrapf(ErrEmptyName, "params.%s", port)
			}
		}
	}

	for name := range cfg.Options {
		if strings.TrimSpace(name) == "" {
			return errors.Wrap(ErrEmptyName, "options")
		}
	}

	return nil
}

// Bindings converts the configured inputs, outputs, parameters and options.
// Names are read with the configured namespaces.
func (cfg Config) Bindings() (driver.Bindings, error) {
	b := driver.Bindings{
		Inputs:  binding.InputTable{},
		Outputs: binding.OutputTable{},
		Params:  binding.Params{},
		Options: binding.Options{},
	}

	for _, uri := range cfg.Input {
		b.Inputs[binding.Default()] = append(b.Inputs[binding.Default()], binding.URIInput(uri))
	}

	for port, uris := range cfg.Inputs {
		ref := binding.Named(port)
		for _, uri := range uris {
			b.Inputs[ref] = append(b.Inputs[ref], binding.URIInput(uri))
		}
	}

	for port, uri := range cfg.Outputs {
		b.Outputs[binding.Named(port)] = binding.ParseOutput(uri)
	}

	for _, port := range sortedKeys(cfg.Params) {
		for _, raw := range sortedKeys(cfg.Params[port]) {
			name, err := qname.Parse(raw, cfg.Namespaces)
			if err != nil {
				return driver.Bindings{}, errors.Wrapf(err, "unable to read parameter name %s", raw)
			}

			b.Params.Set(port, name, cfg.Params[port][raw])
		}
	}

	for _, raw := range sortedKeys(cfg.Options) {
		name, err := qname.Parse(raw, cfg.Namespaces)
		if err != nil {
			return driver.Bindings{}, errors.Wrapf(err, "unable to read option name %s", raw)
		}

		b.Options[name] = cfg.Options[raw]
	}

	return b, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
