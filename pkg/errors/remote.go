package errors

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors shared by the pool, session and filesystem packages.
// The filesystem-flavoured ones alias io/fs so that errors.Is works against
// both these names and os/fs errors returned by protocol libraries.
var (
	ErrNotFound          = fs.ErrNotExist
	ErrAlreadyExists     = fs.ErrExist
	ErrPermission        = fs.ErrPermission
	ErrClosed            = fs.ErrClosed
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrNotAFile          = errors.New("not a regular file")
	ErrNotADirectory     = errors.New("not a directory")
	ErrTimeout           = errors.New("timed out waiting for a session")
	ErrPoolNotStarted    = errors.New("pool is not started")
	ErrConnectionLost    = errors.New("connection lost")
	ErrUnsupported       = errors.New("operation not supported by server")
)

// Stage identifies where session establishment failed.
type Stage string

// Exported constants.
const (
	StageDial      Stage = "dial"
	StageProxy     Stage = "proxy"
	StageTLS       Stage = "tls"
	StageHandshake Stage = "handshake"
	StageAuth      Stage = "auth"
	StageSession   Stage = "session"
)

// ConnectionError reports a failure to establish a session with a server.
type ConnectionError struct {
	Host  string
	Stage Stage
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s failed during %s: %v", e.Host, e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a negative reply from the server to a single command.
// Status carries the server's own text. Kind, when set, is one of the
// sentinels above and is what errors.Is matches against.
type ProtocolError struct {
	Op     string
	Path   string
	Code   int
	Status string
	Kind   error
}

func (e *ProtocolError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Status)
	}

	return fmt.Sprintf("%s %s: server replied %d: %s", e.Op, e.Path, e.Code, e.Status)
}

func (e *ProtocolError) Unwrap() error { return e.Kind }
