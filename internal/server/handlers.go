package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/stratabuild/strata/internal"
	"github.com/stratabuild/strata/internal/build"
	"github.com/stratabuild/strata/internal/protocol"
	"github.com/stratabuild/strata/internal/recipe"
)

// Handles a build command.
//
// Parses the recipe from the request and executes it against the shared
// image store and layer cache.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	r, err := recipe.Parse([]byte(req.Recipe))
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	result, err := build.Run(ctx, s.store, s.cache, build.Options{
		Recipe:  r,
		Context: req.Context,
		Output:  req.Output,
		Tag:     req.Tag,
		Command: req.Command,
	})
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{
			Message:  err.Error(),
			ExitCode: build.ExitCode(err),
		})
		return
	}

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, &protocol.BuildResult{
		Digest:       result.Digest.String(),
		Path:         result.Path,
		LayersReused: result.LayersReused,
		LayersBuilt:  result.LayersBuilt,
	})
}

// Handles an images command.
func (s *Server) handleImages(conn net.Conn) {
	infos, err := s.store.List()
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	result := &protocol.ImagesResult{}
	for _, info := range infos {
		result.Images = append(result.Images, protocol.ImageInfo{
			Ref:    info.Ref,
			Digest: info.Digest.String(),
			Size:   info.Size,
		})
	}

	s.respond(conn, protocol.CmdOK, result)
}

// Handles a remove command.
func (s *Server) handleRemove(conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.RemoveRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	if err := s.store.Remove(req.Ref); err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, protocol.CmdOK, nil)
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds := s.builds
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  uptime.String(),
		Builds:  builds,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
