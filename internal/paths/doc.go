// Provides platform-appropriate paths for the builder.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The tool name "strata" is used as the subdirectory
// under each base path. The layer cache lives under the cache home, the
// image store under the data home, and runtime files (socket, PID) under
// the runtime directory.
package paths
