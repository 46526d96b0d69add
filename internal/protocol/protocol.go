package protocol

import (
	"encoding/json"
	"fmt"
)

// Identifies a daemon command or response kind.
type Command string

const (
	CmdBuild    Command = "build"
	CmdImages   Command = "images"
	CmdRemove   Command = "remove"
	CmdStatus   Command = "status"
	CmdShutdown Command = "shutdown"

	CmdOK    Command = "ok"
	CmdError Command = "error"
)

// Wraps every message on the wire.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Asks the daemon to execute a recipe.
type BuildRequest struct {
	Recipe  string   `json:"recipe"`            // Recipe source in YAML.
	Context string   `json:"context"`           // Build context directory on the daemon host.
	Tag     string   `json:"tag,omitempty"`     // Reference to save the image under.
	Output  string   `json:"output,omitempty"`  // Directory to export the archive into.
	Command []string `json:"command,omitempty"` // Overrides the recipe's command.
}

// Reports a completed build.
type BuildResult struct {
	Digest       string `json:"digest"`
	Path         string `json:"path,omitempty"`
	LayersReused int    `json:"layersReused"`
	LayersBuilt  int    `json:"layersBuilt"`
}

// Describes one stored image in an images response.
type ImageInfo struct {
	Ref    string `json:"ref"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// Lists the stored images.
type ImagesResult struct {
	Images []ImageInfo `json:"images"`
}

// Asks the daemon to delete a stored image.
type RemoveRequest struct {
	Ref string `json:"ref"`
}

// Reports daemon health.
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
}

// Carries a failure back to the client.
type ErrorResult struct {
	Message  string `json:"message"`
	ExitCode int    `json:"exitCode,omitempty"`
}

// Serializes a command and payload into an envelope.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", cmd, err)
		}
		env.Payload = data
	}

	return json.Marshal(env)
}

// Parses an envelope, returning its command and raw payload.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("envelope has no command")
	}
	return &env, env.Payload, nil
}

// Parses a raw payload into a concrete request or result type.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return &v, nil
}
