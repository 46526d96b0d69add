package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/stratabuild/strata/internal"
)

// Represents the root command for the strata CLI.
var RootCmd struct {
	Quiet   bool       `short:"q" help:"Suppress informational output."`
	Verbose bool       `short:"v" help:"Enable verbose output."`
	Debug   bool       `short:"d" help:"Enable debug output."`
	Store   string     `help:"Override the default image store directory." placeholder:"DIR"`
	Cache   string     `help:"Override the default layer cache directory." placeholder:"DIR"`
	Build   BuildCmd   `cmd:"" help:"Execute a recipe and produce an image."`
	Images  ImagesCmd  `cmd:"" help:"List stored images."`
	Remove  RemoveCmd  `cmd:"" name:"rm" help:"Remove a stored image."`
	Daemon  DaemonCmd  `cmd:"" help:"Run the build daemon."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Reproducible container image builds from declarative recipes."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Level applied to the global logger, adjustable after flag parsing.
var logLevel = new(slog.LevelVar)

// Configures the global logger based on CLI flags.
func configureLogger() {
	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()

	switch {
	case debug:
		logLevel.Set(slog.LevelDebug)
	case quiet:
		logLevel.Set(slog.LevelWarn)
	default:
		logLevel.Set(slog.LevelInfo)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
