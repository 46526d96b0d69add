// Package protocol defines the wire format spoken over the daemon's Unix
// socket.
//
// Every message is a single newline-delimited JSON envelope holding a
// command name and an optional payload. Requests carry a command such as
// "build" or "status"; responses carry "ok" with a result payload, or
// "error" with a message.
//
// Example usage:
//
//	data, err := protocol.Encode(protocol.CmdBuild, &protocol.BuildRequest{
//	    Recipe:  recipeYAML,
//	    Context: "/home/dev/app",
//	    Tag:     "app:latest",
//	})
package protocol
