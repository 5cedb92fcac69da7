package session

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

// dialer opens TCP connections, optionally through a proxy. Errors are
// *ConnectionError with StageDial or StageProxy.
type dialer struct {
	direct  *net.Dialer
	via     proxy.Dialer
	proxied bool
}

func newDialer(cfg Config) (*dialer, error) {
	direct := &net.Dialer{Timeout: cfg.ConnectionTimeout, KeepAlive: defaultTCPKeepAlive}
	if cfg.Proxy.URL == "" {
		return &dialer{direct: direct}, nil
	}

	proxyURL, err := url.Parse(cfg.Proxy.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid proxy url")
	}

	if cfg.Proxy.User != "" {
		proxyURL.User = url.UserPassword(cfg.Proxy.User, cfg.Proxy.Password)
	}

	var via proxy.Dialer

	switch proxyURL.Scheme {
	case "http":
		via = newHTTPConnectDialer(proxyURL, direct)
	default:
		// socks5 and socks5h are built into x/net/proxy
		via, err = proxy.FromURL(proxyURL, direct)
		if err != nil {
			return nil, errors.Wrapf(err, "unsupported proxy %q", proxyURL.Redacted())
		}
	}

	return &dialer{direct: direct, via: via, proxied: true}, nil
}

// DialContext connects to address.
func (d *dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.via == nil {
		conn, err := d.direct.DialContext(ctx, network, address)
		if err != nil {
			return nil, &pkgerrors.ConnectionError{Host: address, Stage: pkgerrors.StageDial, Err: err}
		}

		return conn, nil
	}

	var (
		conn net.Conn
		err  error
	)

	if contextDialer, ok := d.via.(proxy.ContextDialer); ok {
		conn, err = contextDialer.DialContext(ctx, network, address)
	} else {
		conn, err = d.via.Dial(network, address)
	}

	if err != nil {
		return nil, &pkgerrors.ConnectionError{Host: address, Stage: pkgerrors.StageProxy, Err: err}
	}

	return conn, nil
}

// httpConnectDialer tunnels through an HTTP proxy with the CONNECT method.
type httpConnectDialer struct {
	proxyAddr string
	auth      string
	forward   *net.Dialer
}

func newHTTPConnectDialer(proxyURL *url.URL, forward *net.Dialer) *httpConnectDialer {
	d := &httpConnectDialer{proxyAddr: proxyURL.Host, forward: forward}

	if proxyURL.Port() == "" {
		d.proxyAddr = net.JoinHostPort(proxyURL.Hostname(), "80")
	}

	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		credentials := proxyURL.User.Username() + ":" + password
		d.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
	}

	return d
}

// Dial implements proxy.Dialer.
func (d *httpConnectDialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext implements proxy.ContextDialer.
func (d *httpConnectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.forward.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial proxy %s", d.proxyAddr)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if d.forward.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.forward.Timeout))
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}

	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}

	if err := req.Write(conn); err != nil {
		_ = conn.Close()

		return nil, errors.Wrap(err, "send CONNECT")
	}

	reader := bufio.NewReader(conn)

	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		_ = conn.Close()

		return nil, errors.Wrap(err, "read CONNECT response")
	}

	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()

		return nil, errors.Errorf("proxy refused CONNECT to %s: %s", address, resp.Status)
	}

	_ = conn.SetDeadline(time.Time{})

	if reader.Buffered() > 0 {
		return &bufferedConn{Conn: conn, reader: reader}, nil
	}

	return conn, nil
}

// bufferedConn replays bytes the proxy sent right after its response.
type bufferedConn struct {
	net.Conn

	reader *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}
