package session

import (
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"strings"
	"syscall"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

// Operation names used in translated errors.
const (
	opList      = "list"
	opStat      = "stat"
	opMkdir     = "mkdir"
	opRemove    = "remove"
	opRemoveDir = "rmdir"
	opRename    = "rename"
	opRetrieve  = "retrieve"
	opStore     = "store"
	opKeepAlive = "keepalive"
)

// SFTP v3 status codes that survive pkg/sftp's own normalisation.
const (
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
)

// translateSFTP maps pkg/sftp errors onto the shared taxonomy.
func translateSFTP(op, path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return &pkgerrors.ProtocolError{
			Op: op, Path: path, Code: sshFxNoSuchFile, Status: "no such file", Kind: pkgerrors.ErrNotFound,
		}
	case errors.Is(err, fs.ErrPermission):
		return &pkgerrors.ProtocolError{
			Op: op, Path: path, Code: sshFxPermissionDenied, Status: "permission denied", Kind: pkgerrors.ErrPermission,
		}
	case errors.Is(err, sftp.ErrSSHFxConnectionLost), errors.Is(err, sftp.ErrSSHFxNoConnection), isConnectionLoss(err):
		return connectionLost(op, path, err)
	}

	var status *sftp.StatusError
	if errors.As(err, &status) {
		protoErr := &pkgerrors.ProtocolError{Op: op, Path: path, Code: int(status.Code), Status: status.Error()}
		msg := strings.ToLower(status.Error())

		switch {
		case status.FxCode() == sftp.ErrSSHFxOpUnsupported:
			protoErr.Kind = pkgerrors.ErrUnsupported
		case strings.Contains(msg, "already exists"), strings.Contains(msg, "file exists"):
			protoErr.Kind = pkgerrors.ErrAlreadyExists
		case strings.Contains(msg, "not empty"):
			protoErr.Kind = pkgerrors.ErrDirectoryNotEmpty
		case strings.Contains(msg, "not a directory"):
			protoErr.Kind = pkgerrors.ErrNotADirectory
		}

		return protoErr
	}

	return errors.Wrapf(err, "%s %s", op, path)
}

// translateFTP maps jlaffaye/ftp errors onto the shared taxonomy. FTP servers
// overload 550 for "missing" and "refused"; it is read as not-found for
// operations on existing paths and left generic for creations.
func translateFTP(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		protoErr := &pkgerrors.ProtocolError{Op: op, Path: path, Code: reply.Code, Status: reply.Msg}

		switch reply.Code {
		case ftp.StatusFileUnavailable, ftp.StatusFileActionIgnored:
			if op != opMkdir && op != opStore {
				protoErr.Kind = pkgerrors.ErrNotFound
			}
		case ftp.StatusNotLoggedIn, ftp.StatusInvalidCredentials:
			protoErr.Kind = pkgerrors.ErrPermission
		case ftp.StatusNotAvailable:
			protoErr.Kind = pkgerrors.ErrConnectionLost
		case ftp.StatusNotImplemented, ftp.StatusNotImplementedParameter, ftp.StatusCommandNotImplemented:
			protoErr.Kind = pkgerrors.ErrUnsupported
		}

		return protoErr
	}

	if isConnectionLoss(err) {
		return connectionLost(op, path, err)
	}

	return errors.Wrapf(err, "%s %s", op, path)
}

func connectionLost(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, path, pkgerrors.ErrConnectionLost, err)
}

// isConnectionLoss reports transport failures after which the session can
// no longer be trusted.
func isConnectionLoss(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
