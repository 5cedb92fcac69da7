package session

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Protocol selects the wire protocol.
type Protocol string

// TLSMode selects how FTP connections are secured.
type TLSMode string

// TransferType is the FTP representation type.
type TransferType string

// Exported constants.
const (
	ProtocolSFTP Protocol = "sftp"
	ProtocolFTP  Protocol = "ftp"

	// TLSNone is plain FTP.
	TLSNone TLSMode = ""
	// TLSExplicit upgrades the control connection with AUTH TLS.
	TLSExplicit TLSMode = "explicit"
	// TLSImplicit speaks TLS from the first byte.
	TLSImplicit TLSMode = "implicit"

	TransferBinary TransferType = "binary"
	TransferASCII  TransferType = "ascii"

	DefaultSFTPPort       = 22
	DefaultFTPPort        = 21
	DefaultFTPSPort       = 990
	DefaultConnectTimeout = 30 * time.Second

	anonymousUser       = "anonymous"
	anonymousPassword   = "anonymous@"
	defaultTCPKeepAlive = 30 * time.Second
	maxPort             = 65535
)

// Config fully describes how to reach and authenticate against one server.
type Config struct {
	Protocol Protocol
	Host     string
	Port     int
	User     string
	Password string

	// KeyFile is a private key for SFTP public key authentication.
	KeyFile       string
	KeyPassphrase string
	// UseAgent enables keys held by the SSH agent at SSH_AUTH_SOCK.
	UseAgent bool
	// KnownHostsFile verifies SFTP host keys. When empty and
	// InsecureHostKey is false, host keys are accepted with a warning.
	KnownHostsFile  string
	InsecureHostKey bool

	TLS   TLSConfig
	Proxy ProxyConfig
	FTP   FTPOptions

	ConnectionTimeout time.Duration
	// Debug logs the FTP control channel at trace level.
	Debug bool
}

// TLSConfig controls FTPS.
type TLSConfig struct {
	Mode               TLSMode
	InsecureSkipVerify bool
	// ReuseSession shares one TLS session cache between the control and
	// data connections. Many FTPS servers require it.
	ReuseSession bool
	ServerName   string
}

// ProxyConfig routes connections through an HTTP CONNECT or SOCKS5 proxy.
type ProxyConfig struct {
	// URL is http://host:port or socks5://host:port. Empty means direct.
	URL      string
	User     string
	Password string
}

// FTPOptions are FTP session settings.
type FTPOptions struct {
	// DisableEPSV falls back to PASV addressing.
	DisableEPSV bool
	DisableUTF8 bool
	// DisableMLSD forces LIST parsing and disables MLST probing.
	DisableMLSD  bool
	TransferType TransferType
	// TimeZone is the IANA zone the server reports LIST times in.
	TimeZone string
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultPort returns the well-known port for the protocol and TLS mode.
func (c Config) DefaultPort() int {
	switch {
	case c.Protocol == ProtocolSFTP:
		return DefaultSFTPPort
	case c.TLS.Mode == TLSImplicit:
		return DefaultFTPSPort
	default:
		return DefaultFTPPort
	}
}

// Validate reports configuration errors that would make every session fail.
func (c Config) Validate() error {
	switch c.Protocol {
	case ProtocolSFTP, ProtocolFTP:
	default:
		return errors.Errorf("unsupported protocol %q", c.Protocol)
	}

	if c.Host == "" {
		return errors.New("host is required")
	}

	if c.Port < 0 || c.Port > maxPort {
		return errors.Errorf("port %d out of range", c.Port)
	}

	if c.ConnectionTimeout < 0 {
		return errors.New("connection timeout must not be negative")
	}

	if c.Protocol == ProtocolSFTP && c.User == "" {
		return errors.New("user is required for sftp")
	}

	if c.Protocol == ProtocolSFTP && c.TLS.Mode != TLSNone {
		return errors.New("tls mode applies to ftp only")
	}

	switch c.TLS.Mode {
	case TLSNone, TLSExplicit, TLSImplicit:
	default:
		return errors.Errorf("unknown tls mode %q", c.TLS.Mode)
	}

	switch c.FTP.TransferType {
	case "", TransferBinary, TransferASCII:
	default:
		return errors.Errorf("unknown transfer type %q", c.FTP.TransferType)
	}

	if c.Proxy.URL != "" {
		proxyURL, err := url.Parse(c.Proxy.URL)
		if err != nil {
			return errors.Wrap(err, "invalid proxy url")
		}

		switch proxyURL.Scheme {
		case "http", "socks5", "socks5h":
		default:
			return errors.Errorf("unsupported proxy scheme %q (want http, socks5 or socks5h)", proxyURL.Scheme)
		}
	}

	if c.FTP.TimeZone != "" {
		if _, err := time.LoadLocation(c.FTP.TimeZone); err != nil {
			return errors.Wrap(err, "invalid server time zone")
		}
	}

	return nil
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = c.DefaultPort()
	}

	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectTimeout
	}

	if c.Protocol == ProtocolFTP && c.User == "" {
		c.User = anonymousUser
		if c.Password == "" {
			c.Password = anonymousPassword
		}
	}

	if c.FTP.TransferType == "" {
		c.FTP.TransferType = TransferBinary
	}

	return c
}
