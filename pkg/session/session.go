// Package session opens authenticated FTP, FTPS and SFTP sessions and exposes
// them behind one protocol-neutral interface.
//
// A Factory dials the server (directly or through a proxy), negotiates TLS
// where configured, logs in and probes optional server features. The probe
// runs once per Factory; its result is shared by every later session since
// a server's feature set is assumed stable.
package session

import (
	"context"
	"io"
	"io/fs"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Session is one authenticated connection. A Session is not safe for
// concurrent use; the pool lends it to one caller at a time.
type Session interface {
	// Capabilities reports the optional features detected for this server.
	Capabilities() Capabilities
	// List returns the entries of dir. Pseudo entries may be included.
	List(dir string) ([]Entry, error)
	// Stat returns metadata for a single path. It fails with
	// ErrUnsupported when Capabilities().StructuredStat is false.
	Stat(path string) (Entry, error)
	Mkdir(path string) error
	// Remove deletes a file.
	Remove(path string) error
	// RemoveDir deletes an empty directory.
	RemoveDir(path string) error
	Rename(from, to string) error
	// Retrieve streams the whole remote file into w.
	Retrieve(path string, w io.Writer) (int64, error)
	// Store replaces the remote file with everything read from r.
	Store(path string, r io.Reader) (int64, error)
	// KeepAlive performs a cheap round trip to check the connection.
	KeepAlive() error
	Close() error
}

// Capabilities are optional server features found by probing.
type Capabilities struct {
	// StructuredStat means single-path metadata is available (SFTP stat,
	// FTP MLST). Without it Stat has to list the parent directory.
	StructuredStat bool `json:"structured_stat"`
	// PreciseListTime means listings carry full timestamps (SFTP, FTP MLSD).
	PreciseListTime bool `json:"precise_list_time"`
	// ModTime means the server answers MDTM (always true for SFTP).
	ModTime bool `json:"mod_time"`
	// PosixRename means rename overwrites an existing target atomically.
	PosixRename bool `json:"posix_rename"`
	StatVFS     bool `json:"statvfs"`
	HardLink    bool `json:"hardlink"`
}

// Entry is protocol-neutral metadata for one remote path.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	// Mode carries the type bits (fs.ModeDir, fs.ModeSymlink) and, where the
	// protocol reports them, permissions.
	Mode fs.FileMode
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Mode.IsDir()
}

// IsRegular reports whether the entry is a plain file.
func (e Entry) IsRegular() bool {
	return e.Mode.IsRegular()
}

// Factory opens sessions for one configured endpoint.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
	// Capabilities returns the probed feature set once a session has been
	// opened successfully.
	Capabilities() (Capabilities, bool)
}

// NewFactory validates cfg and returns the factory for its protocol.
func NewFactory(cfg Config, logger logrus.FieldLogger) (Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid session config")
	}

	cfg = cfg.withDefaults()
	logger = componentLogger(logger, cfg)

	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Protocol {
	case ProtocolSFTP:
		factory, err := newSFTPFactory(cfg, dialer, logger)
		if err != nil {
			return nil, err
		}

		return factory, nil
	case ProtocolFTP:
		return newFTPFactory(cfg, dialer, logger), nil
	default:
		return nil, errors.Errorf("unsupported protocol %q", cfg.Protocol)
	}
}

func componentLogger(logger logrus.FieldLogger, cfg Config) logrus.FieldLogger {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	return logger.WithFields(logrus.Fields{
		"component": "session",
		"protocol":  cfg.Protocol,
		"host":      cfg.Address(),
	})
}
