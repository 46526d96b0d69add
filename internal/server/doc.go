// Package server implements the strata daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands
// from the strata CLI. Each connection carries a single request-response
// exchange: the client sends a newline-delimited JSON envelope, the
// server dispatches the command, and writes the result back before
// closing the connection.
//
// Supported commands include executing recipes, listing and removing
// stored images, querying daemon status, and initiating shutdown. Build
// commands are delegated to the build package, which shares one image
// store and one layer cache across every connection.
//
// Example usage:
//
//	srv, err := server.New(server.Config{})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
