package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

const ftpShutTimeout = 5 * time.Second

// ftpConn is the subset of *ftp.ServerConn a session uses.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	GetEntry(path string) (*ftp.Entry, error)
	MakeDir(path string) error
	Delete(path string) error
	RemoveDir(path string) error
	Rename(from, to string) error
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	NoOp() error
	Quit() error
	IsTimePreciseInList() bool
	IsGetTimeSupported() bool
}

// serverConn narrows Retr to an io.ReadCloser.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

type ftpFactory struct {
	cfg      Config
	dialer   *dialer
	logger   logrus.FieldLogger
	tls      *tls.Config
	location *time.Location
	features featureCache
}

func newFTPFactory(cfg Config, dialer *dialer, logger logrus.FieldLogger) *ftpFactory {
	f := &ftpFactory{cfg: cfg, dialer: dialer, logger: logger, location: time.UTC}

	if cfg.FTP.TimeZone != "" {
		// Validate already loaded it once.
		if loc, err := time.LoadLocation(cfg.FTP.TimeZone); err == nil {
			f.location = loc
		}
	}

	if cfg.TLS.Mode != TLSNone {
		serverName := cfg.TLS.ServerName
		if serverName == "" {
			serverName = cfg.Host
		}

		f.tls = &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // Opt-in for self-signed servers
			MinVersion:         tls.VersionTLS12,
		}

		if cfg.TLS.ReuseSession {
			f.tls.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
	}

	return f
}

// Capabilities implements Factory.
func (f *ftpFactory) Capabilities() (Capabilities, bool) {
	return f.features.get()
}

// NewSession connects, negotiates TLS, logs in and applies session options.
func (f *ftpFactory) NewSession(ctx context.Context) (Session, error) {
	addr := f.cfg.Address()

	options := []ftp.DialOption{
		ftp.DialWithTimeout(f.cfg.ConnectionTimeout),
		ftp.DialWithContext(ctx),
		ftp.DialWithDialFunc(f.dialFunc(ctx)),
		ftp.DialWithDisabledEPSV(f.cfg.FTP.DisableEPSV),
		ftp.DialWithDisabledUTF8(f.cfg.FTP.DisableUTF8),
		ftp.DialWithDisabledMLSD(f.cfg.FTP.DisableMLSD),
		ftp.DialWithLocation(f.location),
		ftp.DialWithShutTimeout(ftpShutTimeout),
	}

	// The library only negotiates AUTH TLS and PROT P when it is given the
	// config; the dial func does the wrapping itself.
	switch f.cfg.TLS.Mode {
	case TLSExplicit:
		options = append(options, ftp.DialWithExplicitTLS(f.tls))
	case TLSImplicit:
		options = append(options, ftp.DialWithTLS(f.tls))
	}

	var debug *io.PipeWriter
	if f.cfg.Debug {
		if entry, ok := f.logger.(*logrus.Entry); ok {
			debug = entry.WriterLevel(logrus.TraceLevel)
			options = append(options, ftp.DialWithDebugOutput(debug))
		}
	}

	conn, err := ftp.Dial(addr, options...)
	if err != nil {
		closeDebug(debug)

		connErr := f.dialError(addr, err)
		f.logger.WithError(connErr).WithField("stage", connErr.Stage).Debug("ftp connect failed")

		return nil, connErr
	}

	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		_ = conn.Quit()

		closeDebug(debug)
		f.logger.WithError(err).WithField("stage", pkgerrors.StageAuth).Debug("ftp login failed")

		return nil, &pkgerrors.ConnectionError{Host: addr, Stage: pkgerrors.StageAuth, Err: err}
	}

	if f.cfg.FTP.TransferType == TransferASCII {
		if err := conn.Type(ftp.TransferTypeASCII); err != nil {
			_ = conn.Quit()

			closeDebug(debug)

			return nil, &pkgerrors.ConnectionError{Host: addr, Stage: pkgerrors.StageSession, Err: err}
		}
	}

	wrapped := serverConn{conn}

	caps, probed, err := f.features.resolve(func() (Capabilities, error) {
		return probeFTP(wrapped, f.cfg.FTP.DisableMLSD)
	})
	if err != nil {
		_ = conn.Quit()

		closeDebug(debug)

		return nil, &pkgerrors.ConnectionError{Host: addr, Stage: pkgerrors.StageSession, Err: err}
	}

	if probed {
		f.logger.WithField("capabilities", caps).Info("server capabilities detected")
	}

	session := newFTPSession(wrapped, caps)
	if debug != nil {
		session.debug = debug
	}

	return session, nil
}

// dialFunc opens the control connection within ctx and later data
// connections with their own timeout, since ctx ends once the session is
// handed out. The library does no TLS wrapping when a dial func is set.
func (f *ftpFactory) dialFunc(ctx context.Context) func(network, address string) (net.Conn, error) {
	var (
		mu        sync.Mutex
		controlIP string
	)

	return func(network, address string) (net.Conn, error) {
		mu.Lock()
		first := controlIP == ""
		mu.Unlock()

		if first {
			conn, err := f.dialer.DialContext(ctx, network, address)
			if err != nil {
				return nil, err
			}

			if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
				mu.Lock()
				controlIP = tcpAddr.IP.String()
				mu.Unlock()
			}

			if f.cfg.TLS.Mode != TLSImplicit {
				return conn, nil
			}

			tlsConn := tls.Client(conn, f.tls)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				_ = conn.Close()

				return nil, &pkgerrors.ConnectionError{Host: address, Stage: pkgerrors.StageTLS, Err: err}
			}

			return tlsConn, nil
		}

		// Through a proxy the library only knows the proxy's address.
		if f.dialer.proxied {
			if host, port, err := net.SplitHostPort(address); err == nil {
				mu.Lock()
				if host == controlIP {
					address = net.JoinHostPort(f.cfg.Host, port)
				}
				mu.Unlock()
			}
		}

		dataCtx, cancel := context.WithTimeout(context.Background(), f.cfg.ConnectionTimeout)
		defer cancel()

		conn, err := f.dialer.DialContext(dataCtx, network, address)
		if err != nil {
			return nil, err
		}

		if f.tls != nil {
			return tls.Client(conn, f.tls), nil
		}

		return conn, nil
	}
}

// dialError keeps the stage reported by the dial func and classifies the rest.
func (f *ftpFactory) dialError(addr string, err error) *pkgerrors.ConnectionError {
	var connErr *pkgerrors.ConnectionError
	if errors.As(err, &connErr) {
		return connErr
	}

	if f.cfg.TLS.Mode != TLSNone && isTLSFailure(err) {
		return &pkgerrors.ConnectionError{Host: addr, Stage: pkgerrors.StageTLS, Err: err}
	}

	return &pkgerrors.ConnectionError{Host: addr, Stage: pkgerrors.StageHandshake, Err: err}
}

func isTLSFailure(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
	)

	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		strings.Contains(strings.ToLower(err.Error()), "tls")
}

// probeFTP checks MLST support with a request for the root. Only a "not
// implemented" style reply means the feature is absent; transport errors
// fail the probe so it runs again on the next session.
func probeFTP(conn ftpConn, disableMLSD bool) (Capabilities, error) {
	caps := Capabilities{
		PreciseListTime: conn.IsTimePreciseInList(),
		ModTime:         conn.IsGetTimeSupported(),
	}

	if disableMLSD {
		return caps, nil
	}

	_, err := conn.GetEntry("/")
	if err == nil {
		caps.StructuredStat = true

		return caps, nil
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		switch reply.Code {
		case ftp.StatusNotImplemented, ftp.StatusNotImplementedParameter,
			ftp.StatusCommandNotImplemented, ftp.StatusBadCommand, ftp.StatusBadArguments:
		default:
			// The command was understood, the root just could not be described.
			caps.StructuredStat = true
		}

		return caps, nil
	}

	return Capabilities{}, errors.Wrap(err, "probe MLST")
}

// ftpSession adapts an FTP control connection to Session.
type ftpSession struct {
	conn  ftpConn
	caps  Capabilities
	debug io.Closer
}

func newFTPSession(conn ftpConn, caps Capabilities) *ftpSession {
	return &ftpSession{conn: conn, caps: caps}
}

func (s *ftpSession) Capabilities() Capabilities {
	return s.caps
}

func (s *ftpSession) List(dir string) ([]Entry, error) {
	raw, err := s.conn.List(dir)
	if err != nil {
		return nil, translateFTP(opList, dir, err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, entryFromFTP(path.Base(e.Name), e))
	}

	return entries, nil
}

func (s *ftpSession) Stat(p string) (Entry, error) {
	if !s.caps.StructuredStat {
		return Entry{}, &pkgerrors.ProtocolError{
			Op: opStat, Path: p, Status: "MLST not supported by server", Kind: pkgerrors.ErrUnsupported,
		}
	}

	e, err := s.conn.GetEntry(p)
	if err != nil {
		return Entry{}, translateFTP(opStat, p, err)
	}

	return entryFromFTP(path.Base(p), e), nil
}

func (s *ftpSession) Mkdir(p string) error {
	return translateFTP(opMkdir, p, s.conn.MakeDir(p))
}

func (s *ftpSession) Remove(p string) error {
	return translateFTP(opRemove, p, s.conn.Delete(p))
}

func (s *ftpSession) RemoveDir(p string) error {
	return translateFTP(opRemoveDir, p, s.conn.RemoveDir(p))
}

func (s *ftpSession) Rename(from, to string) error {
	return translateFTP(opRename, from, s.conn.Rename(from, to))
}

func (s *ftpSession) Retrieve(p string, w io.Writer) (int64, error) {
	body, err := s.conn.Retr(p)
	if err != nil {
		return 0, translateFTP(opRetrieve, p, err)
	}

	n, copyErr := io.Copy(w, body)

	// Close reads the transfer-complete reply.
	closeErr := body.Close()

	if copyErr != nil {
		return n, translateFTP(opRetrieve, p, copyErr)
	}

	if closeErr != nil {
		return n, translateFTP(opRetrieve, p, closeErr)
	}

	return n, nil
}

func (s *ftpSession) Store(p string, r io.Reader) (int64, error) {
	counter := &countingReader{r: r}

	if err := s.conn.Stor(p, counter); err != nil {
		return counter.n, translateFTP(opStore, p, err)
	}

	return counter.n, nil
}

// KeepAlive sends NOOP.
func (s *ftpSession) KeepAlive() error {
	return translateFTP(opKeepAlive, "", s.conn.NoOp())
}

func (s *ftpSession) Close() error {
	err := s.conn.Quit()

	if s.debug != nil {
		_ = s.debug.Close()
	}

	if err != nil && !isConnectionLoss(err) {
		return errors.Wrap(err, "quit")
	}

	return nil
}

func entryFromFTP(name string, e *ftp.Entry) Entry {
	entry := Entry{Name: name, Size: int64(e.Size), ModTime: e.Time} //nolint:gosec // Sizes fit in int64

	switch e.Type {
	case ftp.EntryTypeFolder:
		entry.Mode = fs.ModeDir | 0o755
	case ftp.EntryTypeLink:
		entry.Mode = fs.ModeSymlink | 0o777
	default:
		entry.Mode = 0o644
	}

	return entry
}

func closeDebug(w *io.PipeWriter) {
	if w != nil {
		_ = w.Close()
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	return n, err
}
