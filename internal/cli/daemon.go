package cli

import (
	"context"
	"log/slog"

	"github.com/stratabuild/strata/internal/server"
)

// Represents the 'strata daemon' command.
type DaemonCmd struct {
	Socket string `short:"s" help:"Override the default Unix socket path." placeholder:"PATH"`
}

// Executes the daemon command.
//
// Starts the build server on a Unix domain socket and blocks until the
// context is cancelled (e.g. via SIGINT or SIGTERM).
func (c *DaemonCmd) Run(ctx context.Context) error {
	srv, err := server.New(server.Config{
		SocketPath: c.Socket,
		StoreDir:   RootCmd.Store,
		CacheDir:   RootCmd.Cache,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("strata daemon is running")

	<-ctx.Done()

	slog.Info("shutting down")
	return srv.Stop()
}
