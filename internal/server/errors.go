package server

import "errors"

// Returned when the daemon fails to start or serve.
var ErrServer = errors.New("server error")
