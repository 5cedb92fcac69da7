//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

// fakeConnectProxy answers one CONNECT request with status and then writes
// greeting on the tunnel.
func fakeConnectProxy(t *testing.T, status int, greeting string) (string, <-chan *http.Request) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	t.Cleanup(func() { _ = listener.Close() })

	requests := make(chan *http.Request, 1)

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}

		requests <- req

		resp := &http.Response{StatusCode: status, ProtoMajor: 1, ProtoMinor: 1, Header: make(http.Header)}
		if err := resp.Write(conn); err != nil {
			return
		}

		if status == http.StatusOK {
			_, _ = io.WriteString(conn, greeting)
		}
	}()

	return listener.Addr().String(), requests
}

func TestDialer_HTTPConnectTunnel(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	proxyAddr, requests := fakeConnectProxy(t, http.StatusOK, "220 ready\r\n")

	d, err := newDialer(Config{
		ConnectionTimeout: 5 * time.Second,
		Proxy:             ProxyConfig{URL: "http://" + proxyAddr, User: "joe", Password: "secret"},
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d.proxied).To(BeTrue())

	conn, err := d.DialContext(context.Background(), "tcp", "ftp.example.com:21")
	g.Expect(err).NotTo(HaveOccurred())

	defer conn.Close()

	req := <-requests
	g.Expect(req.Method).To(Equal(http.MethodConnect))
	g.Expect(req.Host).To(Equal("ftp.example.com:21"))
	g.Expect(req.Header.Get("Proxy-Authorization")).To(Equal("Basic am9lOnNlY3JldA=="))

	line, err := bufio.NewReader(conn).ReadString('\n')
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(line).To(Equal("220 ready\r\n"))
}

func TestDialer_HTTPConnectRefused(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	proxyAddr, _ := fakeConnectProxy(t, http.StatusProxyAuthRequired, "")

	d, err := newDialer(Config{ConnectionTimeout: 5 * time.Second, Proxy: ProxyConfig{URL: "http://" + proxyAddr}})
	g.Expect(err).NotTo(HaveOccurred())

	_, err = d.DialContext(context.Background(), "tcp", "ftp.example.com:21")

	var connErr *pkgerrors.ConnectionError
	g.Expect(errors.As(err, &connErr)).To(BeTrue())
	g.Expect(connErr.Stage).To(Equal(pkgerrors.StageProxy))
	g.Expect(err.Error()).To(ContainSubstring("407"))
}

func TestDialer_DirectFailureIsDialStage(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	// Grab a free port and close it so nothing listens there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())

	addr := listener.Addr().String()
	g.Expect(listener.Close()).To(Succeed())

	d, err := newDialer(Config{ConnectionTimeout: time.Second})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d.proxied).To(BeFalse())

	_, err = d.DialContext(context.Background(), "tcp", addr)

	var connErr *pkgerrors.ConnectionError
	g.Expect(errors.As(err, &connErr)).To(BeTrue())
	g.Expect(connErr.Stage).To(Equal(pkgerrors.StageDial))
	g.Expect(connErr.Host).To(Equal(addr))
}

func TestNewDialer_Schemes(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	d, err := newDialer(Config{Proxy: ProxyConfig{URL: "socks5://127.0.0.1:1080"}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d.proxied).To(BeTrue())

	_, err = newDialer(Config{Proxy: ProxyConfig{URL: "gopher://127.0.0.1:70"}})
	g.Expect(err).To(HaveOccurred())
}
