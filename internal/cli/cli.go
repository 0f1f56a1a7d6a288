package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/specialistvlad/loopgrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// paramFlag collects repeated -param name=value flags.
type paramFlag map[string]int64

func (p paramFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%d", k, v))
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", name, err)
	}
	p[name] = v
	return nil
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Flags default to the LOOPGRID_* environment variables when set.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("loopgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
loopgrid - A compiler for image-processing pipelines with separate schedules.

Usage:
  loopgrid [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a single .hcl manifest or a directory containing .hcl files.

Without -print, -dump, -run or -check the loop nest is printed.

Options:
`)
		flagSet.PrintDefaults()
	}

	params := paramFlag{}
	pipelineFlag := flagSet.String("pipeline", env.Str("LOOPGRID_PIPELINE"), "Path to the manifest file or directory.")
	pFlag := flagSet.String("p", "", "Path to the manifest file or directory (shorthand).")
	logFormatFlag := flagSet.String("log-format", env.Str("LOOPGRID_LOG_FORMAT", "text"), "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", env.Str("LOOPGRID_LOG_LEVEL", "warn"), "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", env.Int("LOOPGRID_WORKERS", 0), "Workers for parallel loops. 0 uses GOMAXPROCS.")
	vectorWidthFlag := flagSet.Int("vector-width", env.Int("LOOPGRID_VECTOR_WIDTH", 0), "Natural vector width. 0 detects it from the host CPU.")
	printFlag := flagSet.Bool("print", false, "Print the lowered loop nest.")
	dumpFlag := flagSet.Bool("dump", false, "Dump the pipeline and its contracts.")
	runFlag := flagSet.Bool("run", false, "Run the compiled program on the manifest's sample inputs.")
	checkFlag := flagSet.Bool("check", false, "Run and compare the outputs with the naive evaluator.")
	flagSet.Var(params, "param", "Override a parameter, as name=value. May be repeated.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := *pipelineFlag
	if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Pipeline path determined.", "path", path)

	if path == "" {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	printLoops := *printFlag
	if !printLoops && !*dumpFlag && !*runFlag && !*checkFlag {
		printLoops = true
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		PipelinePath: path,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
		Workers:      *workersFlag,
		VectorWidth:  *vectorWidthFlag,
		Params:       params,
		Print:        printLoops,
		Dump:         *dumpFlag,
		Run:          *runFlag,
		Check:        *checkFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
