package run

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ridge/harbor/tlog"
	"github.com/ridge/parallel"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var fs = newFlagSet(os.Args[0])

func newFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.String("log-format", "", "Log format (json|text)")
	flags.String("log-color", "", "Colored logs (yes|no|auto)")
	flags.BoolP("verbose", "v", false, "Enable verbose (debug level) messages")
	// Hide usage while parsing the command line here, will be covered by a regular command line parsing.
	flags.Usage = func() {}
	return flags
}

func init() {
	// Add options help to the main command-line parser.
	pflag.CommandLine.AddFlagSet(fs)
}

// Tool runs the top-level task of your program, watching for signals.
//
// The context passed to the task contains a logger configured from the
// command line.
//
// If an interruption, termination or hangup signal arrives, the context
// passed to the task is closed.
//
// Tool does not return. It exits with code 0 if the task returns nil, and
// with code 1 if the task returns an error.
//
// Any defer handlers installed before calling Tool are ignored. For this
// reason, it is recommended that most or all your main code is inside the task.
//
//	func main() {
//	    pflag.Parse()
//	    run.Tool(func(ctx context.Context) error {
//	        return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
//	            spawn("public", parallel.Fail, public.Run)
//	            spawn("admin", parallel.Fail, admin.Run)
//	            return nil
//	        })
//	    })
//	}
func Tool(task func(ctx context.Context) error) {
	ToolWithLogging(tlog.Config{}, task)
}

// ToolWithLogging is Tool with the logging configured by logging, overridden
// by the command line
func ToolWithLogging(logging tlog.Config, task func(ctx context.Context) error) {
	// os.Exit doesn't run deferred functions, so we'll call it in the first
	// defer which runs last
	var err error
	defer func() {
		var wec WithExitCode
		if errors.As(err, &wec) {
			os.Exit(wec.ExitCode())
		}
		if err != nil {
			os.Exit(1)
		}
	}()

	ctx := rootContext(logging)

	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("main", parallel.Exit, task)
		spawn("signals", parallel.Exit, handleSignals)
		return nil
	})
	if err != nil {
		tlog.Get(ctx).Error("Error", zap.Error(err))
	}
}

// Server runs the top-level task of your program similar to Tool.
//
// The difference is in signal handling: if the top-level task exits with
// (possibly wrapped) context.Canceled while handling the signal, the program
// exits with code 0.
//
// Note that any other error returned during signal handling is still considered
// an error and makes Server exit with code 1.
func Server(task func(ctx context.Context) error) {
	ServerWithLogging(tlog.Config{}, task)
}

// ServerWithLogging is Server with the logging configured by logging,
// overridden by the command line
func ServerWithLogging(logging tlog.Config, task func(ctx context.Context) error) {
	ToolWithLogging(logging, serverTask(task))
}

func serverTask(task func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := task(ctx)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	}
}

// WithExitCode is an optional interface that can be implemented by an error.
//
// When a (possibly wrapped) error implementing WithExitCode reaches the top
// level, the value returned by the ExitCode method becomes the exit code of the
// process. The default exit code for other errors is 1.
type WithExitCode interface {
	ExitCode() int
}

// logConfig applies the logging flags to base
func logConfig(flags *pflag.FlagSet, base tlog.Config) (tlog.Config, error) {
	config := base
	if config.Format == "" {
		config.Format = tlog.FormatText
	}
	if flags.Lookup("log-format").Changed {
		format, err := flags.GetString("log-format")
		if err != nil {
			return tlog.Config{}, err
		}
		config.Format = tlog.Format(format)
	}
	switch config.Format {
	case tlog.FormatJSON, tlog.FormatText:
	default:
		return tlog.Config{}, fmt.Errorf("invalid log format %q", config.Format)
	}

	if flags.Lookup("log-color").Changed {
		color, err := flags.GetString("log-color")
		if err != nil {
			return tlog.Config{}, err
		}
		if color == "auto" {
			color = ""
		}
		config.Color = tlog.Color(color)
	}
	switch config.Color {
	case tlog.ColorAuto, tlog.ColorYes, tlog.ColorNo:
	default:
		return tlog.Config{}, fmt.Errorf("invalid log color %q", config.Color)
	}

	if flags.Lookup("verbose").Changed {
		verbose, err := flags.GetBool("verbose")
		if err != nil {
			return tlog.Config{}, err
		}
		config.Verbose = verbose
	}
	return config, nil
}

func rootContext(logging tlog.Config) context.Context {
	if err := fs.Parse(os.Args[1:]); err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Println(err)
		os.Exit(2)
	}
	config, err := logConfig(fs, logging)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	return tlog.WithLogger(context.Background(), tlog.New(config))
}
