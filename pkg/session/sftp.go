package session

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

// OpenSSH protocol extensions probed on the first session.
const (
	extPosixRename = "posix-rename@openssh.com"
	extStatVFS     = "statvfs@openssh.com"
	extHardLink    = "hardlink@openssh.com"
)

type sftpFactory struct {
	cfg      Config
	dialer   *dialer
	logger   logrus.FieldLogger
	ssh      *ssh.ClientConfig
	features featureCache
}

func newSFTPFactory(cfg Config, dialer *dialer, logger logrus.FieldLogger) (*sftpFactory, error) {
	authMethods, err := sshAuthMethods(cfg, logger)
	if err != nil {
		return nil, err
	}

	hostKeys, err := hostKeyCallback(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &sftpFactory{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
		ssh: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            authMethods,
			HostKeyCallback: hostKeys,
			Timeout:         cfg.ConnectionTimeout,
		},
	}, nil
}

// Capabilities implements Factory.
func (f *sftpFactory) Capabilities() (Capabilities, bool) {
	return f.features.get()
}

// NewSession dials, completes the SSH handshake and opens the SFTP subsystem.
func (f *sftpFactory) NewSession(ctx context.Context) (Session, error) {
	addr := f.cfg.Address()

	conn, err := f.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		f.logger.WithError(err).Debug("dial failed")

		return nil, err
	}

	// The handshake has no context of its own.
	deadline := time.Now().Add(f.cfg.ConnectionTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	_ = conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, f.ssh)
	if err != nil {
		_ = conn.Close()

		stage := pkgerrors.StageHandshake
		if strings.Contains(err.Error(), "unable to authenticate") {
			stage = pkgerrors.StageAuth
		}

		f.logger.WithError(err).WithField("stage", stage).Debug("ssh handshake failed")

		return nil, &pkgerrors.ConnectionError{Host: addr, Stage: stage, Err: err}
	}

	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient, sftp.UseConcurrentWrites(true))
	if err != nil {
		_ = sshClient.Close()

		f.logger.WithError(err).Debug("sftp subsystem failed")

		return nil, &pkgerrors.ConnectionError{Host: addr, Stage: pkgerrors.StageSession, Err: err}
	}

	caps, probed, _ := f.features.resolve(func() (Capabilities, error) {
		return probeSFTP(client), nil
	})

	if probed {
		f.logger.WithField("capabilities", caps).Info("server capabilities detected")
	}

	return newSFTPSession(client, sshClient, caps), nil
}

// probeSFTP reads the extensions the server advertised during init.
func probeSFTP(client *sftp.Client) Capabilities {
	_, posixRename := client.HasExtension(extPosixRename)
	_, statVFS := client.HasExtension(extStatVFS)
	_, hardLink := client.HasExtension(extHardLink)

	return Capabilities{
		StructuredStat:  true,
		PreciseListTime: true,
		ModTime:         true,
		PosixRename:     posixRename,
		StatVFS:         statVFS,
		HardLink:        hardLink,
	}
}

// sftpSession adapts *sftp.Client to Session.
type sftpSession struct {
	client    *sftp.Client
	transport io.Closer
	caps      Capabilities
}

// newSFTPSession wraps an open client. transport is closed after the client
// and may be nil.
func newSFTPSession(client *sftp.Client, transport io.Closer, caps Capabilities) *sftpSession {
	return &sftpSession{client: client, transport: transport, caps: caps}
}

func (s *sftpSession) Capabilities() Capabilities {
	return s.caps
}

func (s *sftpSession) List(dir string) ([]Entry, error) {
	infos, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, translateSFTP(opList, dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, entryFromInfo(info.Name(), info))
	}

	return entries, nil
}

// Stat does not follow symlinks, matching what List reports.
func (s *sftpSession) Stat(p string) (Entry, error) {
	info, err := s.client.Lstat(p)
	if err != nil {
		return Entry{}, translateSFTP(opStat, p, err)
	}

	return entryFromInfo(path.Base(p), info), nil
}

func (s *sftpSession) Mkdir(p string) error {
	return translateSFTP(opMkdir, p, s.client.Mkdir(p))
}

func (s *sftpSession) Remove(p string) error {
	return translateSFTP(opRemove, p, s.client.Remove(p))
}

func (s *sftpSession) RemoveDir(p string) error {
	return translateSFTP(opRemoveDir, p, s.client.RemoveDirectory(p))
}

// Rename uses posix-rename when available so an existing target is replaced.
func (s *sftpSession) Rename(from, to string) error {
	var err error
	if s.caps.PosixRename {
		err = s.client.PosixRename(from, to)
	} else {
		err = s.client.Rename(from, to)
	}

	return translateSFTP(opRename, from, err)
}

func (s *sftpSession) Retrieve(p string, w io.Writer) (int64, error) {
	file, err := s.client.Open(p)
	if err != nil {
		return 0, translateSFTP(opRetrieve, p, err)
	}
	defer file.Close()

	n, err := file.WriteTo(w)
	if err != nil {
		return n, translateSFTP(opRetrieve, p, err)
	}

	return n, nil
}

func (s *sftpSession) Store(p string, r io.Reader) (int64, error) {
	file, err := s.client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, translateSFTP(opStore, p, err)
	}

	n, err := file.ReadFrom(r)
	if err != nil {
		_ = file.Close()

		return n, translateSFTP(opStore, p, err)
	}

	if err := file.Close(); err != nil {
		return n, translateSFTP(opStore, p, err)
	}

	return n, nil
}

// KeepAlive resolves the working directory, one realpath round trip.
func (s *sftpSession) KeepAlive() error {
	_, err := s.client.Getwd()

	return translateSFTP(opKeepAlive, ".", err)
}

// Close closes the SFTP session and its transport, returning the first error.
func (s *sftpSession) Close() error {
	var firstErr error

	if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		firstErr = err
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil && firstErr == nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}

	return firstErr
}

func entryFromInfo(name string, info os.FileInfo) Entry {
	return Entry{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    info.Mode(),
	}
}
