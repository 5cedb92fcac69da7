package filesystem

import (
	"fmt"
	"net/url"
	"path"
	"strconv"

	"github.com/joe/remotefs/pkg/session"
)

// Location is a parsed remote URL.
type Location struct {
	Protocol session.Protocol
	TLSMode  session.TLSMode
	Host     string
	// Port is zero when the URL has none; the session layer picks the
	// protocol default.
	Port     int
	User     string
	Password string
	// Path is the absolute working directory.
	Path string
}

// ParseURL parses a remote URL of the form scheme://[user[:password]@]host[:port][/path].
// Supported schemes:
//   - sftp://joe@myserver.com/home/joe/data
//   - ftp://ftp.example.com/pub (anonymous when no user is given)
//   - ftps://joe@example.com:990/ (implicit TLS)
//   - ftpes://joe@example.com/ (explicit TLS, AUTH TLS on port 21)
func ParseURL(raw string) (*Location, error) {
	u, err := url.Parse(raw) //nolint:varnamelen // u is idiomatic for URL
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	loc := &Location{}

	switch u.Scheme {
	case "sftp":
		loc.Protocol = session.ProtocolSFTP
	case "ftp":
		loc.Protocol = session.ProtocolFTP
	case "ftps":
		loc.Protocol, loc.TLSMode = session.ProtocolFTP, session.TLSImplicit
	case "ftpes":
		loc.Protocol, loc.TLSMode = session.ProtocolFTP, session.TLSExplicit
	default:
		return nil, fmt.Errorf("unsupported scheme %q (want sftp, ftp, ftps or ftpes)", u.Scheme) //nolint:err113 // URL validation with actual scheme
	}

	loc.Host = u.Hostname()
	if loc.Host == "" {
		return nil, fmt.Errorf("URL must include a host (%s://user@host/path)", u.Scheme) //nolint:err113 // URL validation error
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port number %q", portStr) //nolint:err113 // URL validation error
		}

		loc.Port = port
	}

	if u.User != nil {
		loc.User = u.User.Username()
		loc.Password, _ = u.User.Password()
	}

	if loc.Protocol == session.ProtocolSFTP && loc.User == "" {
		return nil, fmt.Errorf("SFTP URL must include username (sftp://user@host/path)") //nolint:err113,perfsprint // URL validation with format guidance
	}

	loc.Path = path.Clean("/" + u.Path)

	return loc, nil
}

// SessionConfig returns the session settings the URL describes.
func (l *Location) SessionConfig() session.Config {
	return session.Config{
		Protocol: l.Protocol,
		Host:     l.Host,
		Port:     l.Port,
		User:     l.User,
		Password: l.Password,
		TLS:      session.TLSConfig{Mode: l.TLSMode},
	}
}
