package pipeline

import "errors"

// Sentinel errors passed to OnClose and logged at the point a connection
// is torn down; they never cross a package boundary beyond this one.
var (
	errParse    = errors.New("pipeline: protocol parse error")
	errTimedOut = errors.New("pipeline: request timed out")
	errNoServer = errors.New("pipeline: no live backend")
	errClosed   = errors.New("pipeline: peer closed connection")
	errForward  = errors.New("pipeline: forwarding error")
)
