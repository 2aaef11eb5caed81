package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/askiada/pipedriver/internal/cli"
	"github.com/askiada/pipedriver/internal/config"
	"github.com/askiada/pipedriver/internal/logging"
	"github.com/askiada/pipedriver/pkg/driver"
	"github.com/askiada/pipedriver/pkg/errmsg"
	"github.com/askiada/pipedriver/pkg/flow"
	"github.com/askiada/pipedriver/pkg/flow/drawer"
	"github.com/askiada/pipedriver/pkg/flow/measure"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// settings is the command line merged over the configuration file.
type settings struct {
	cfg       config.Config
	pipeline  string
	debug     bool
	logLevel  string
	dumpGraph string
	measure   bool
}

func merge(args *cli.Args, cfg config.Config) settings {
	s := settings{
		cfg:       cfg,
		pipeline:  cfg.Pipeline,
		debug:     cfg.Debug || args.Debug,
		logLevel:  cfg.LogLevel,
		dumpGraph: cfg.DumpGraph,
		measure:   cfg.Measure || args.Measure,
	}

	if args.Pipeline != "" {
		s.pipeline = args.Pipeline
	}

	if args.LogLevel != "" {
		s.logLevel = args.LogLevel
	}

	if args.DumpGraph != "" {
		s.dumpGraph = args.DumpGraph
	}

	return s
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	parsed, exit, err := cli.Parse(args, stderr)
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(stderr, exitErr.Message)

			return exitErr.Code
		}

		fmt.Fprintln(stderr, err)

		return 1
	}

	if exit {
		return 0
	}

	if parsed.Version {
		fmt.Fprintln(stdout, "pipedriver", cli.Version)

		return 0
	}

	cfg := config.Default()
	if parsed.ConfigPath != "" {
		cfg, err = config.Load(parsed.ConfigPath)
		if err != nil {
			fmt.Fprintln(stderr, err)

			return 1
		}
	}

	s := merge(parsed, cfg)
	if s.pipeline == "" {
		cli.Usage(stderr)

		return 1
	}

	s.cfg.LogLevel = s.logLevel

	err = s.cfg.Validate()
	if err != nil {
		fmt.Fprintln(stderr, errors.Wrap(err, "invalid configuration"))

		return 1
	}

	logger, err := logging.New(stderr, logging.FromEnv(logging.Options{Level: s.logLevel, Debug: s.debug}, os.Getenv))
	if err != nil {
		fmt.Fprintln(stderr, err)

		return 1
	}

	registry, err := errmsg.Load()
	if err != nil {
		logger.Error().Err(err).Msg("unable to load error messages")

		return 1
	}

	configured, err := s.cfg.Bindings()
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")

		return 1
	}

	user, err := parsed.Bindings(s.cfg.Namespaces)
	if err != nil {
		cli.Usage(stderr)
		logger.Error().Err(err).Msg("invalid argument")

		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	req := driver.Request{Pipeline: s.pipeline, Configured: configured, User: user}

	return execute(ctx, s, registry, req, stdin, stdout, logger)
}

func execute(ctx context.Context, s settings, registry *errmsg.Registry, req driver.Request, stdin io.Reader, stdout io.Writer, logger zerolog.Logger) int {
	engineOpts := []flow.Option{flow.WithLogger(logger)}

	var msr *measure.DefaultMeasure
	if s.measure || s.dumpGraph != "" {
		msr = measure.NewDefaultMeasure()
		engineOpts = append(engineOpts, flow.WithObserver(measure.Observer(msr)))
	}

	if s.dumpGraph != "" {
		f, err := os.Create(s.dumpGraph)
		if err != nil {
			logger.Error().Err(err).Str("file", s.dumpGraph).Msg("unable to create graph file")

			return 1
		}

		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn().Err(cerr).Str("file", s.dumpGraph).Msg("unable to close graph file")
			}
		}()

		engineOpts = append(engineOpts, flow.WithObserver(drawer.Observer(drawer.NewDOTDrawer(f), msr)))
	}

	drv, err := driver.New(flow.New(engineOpts...), registry,
		driver.WithLogger(logger),
		driver.WithStdin(stdin),
		driver.WithStdout(stdout),
		driver.WithSerializationDefaults(s.cfg.Serialization),
		driver.WithDebug(s.debug),
	)
	if err != nil {
		logger.Error().Err(err).Msg("unable to create driver")

		return 1
	}

	res, err := drv.Run(ctx, req)
	if err != nil {
		return drv.Report(err)
	}

	if res.ToStdout {
		fmt.Fprintln(stdout)
	}

	if s.measure {
		logMeasure(logger, msr)
	}

	return 0
}

func logMeasure(logger zerolog.Logger, msr *measure.DefaultMeasure) {
	for _, name := range msr.Names() {
		mt := msr.GetMetric(name)
		logger.Info().
			Str("stage", name).
			Int64("documents", mt.Count()).
			Dur("avg", mt.AVGDuration()).
			Dur("total", mt.GetTotalDuration()).
			Msg("measure")
	}
}
