package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joe/remotefs/internal/metrics"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/session"
)

func newCollector(t *testing.T) *metrics.Collector {
	t.Helper()

	collector, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("failed to create collector: %v", err)
	}

	return collector
}

func TestCollector_CountsObserverEvents(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	c := newCollector(t)

	c.SessionCreated()
	c.SessionCreated()
	c.SessionCreateFailed(errors.New("refused"))
	c.SessionDestroyed(pool.ReasonIdle)
	c.SessionDestroyed(pool.ReasonIdle)
	c.SessionDestroyed(pool.ReasonDiscarded)
	c.TakeTimedOut()
	c.KeepAliveFailed(errors.New("timeout"))
	c.TakeWaited(20 * time.Millisecond)
	c.CacheHit()
	c.CacheMiss()
	c.CacheMiss()

	problems, err := testutil.GatherAndLint(c.Registry(),
		"remotefs_pool_sessions_created_total", "remotefs_pool_sessions_destroyed_total",
		"remotefs_pool_take_wait_seconds", "remotefs_attribute_cache_hits_total")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(problems).To(BeEmpty())

	count, err := testutil.GatherAndCount(c.Registry(), "remotefs_pool_take_wait_seconds")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(count).To(Equal(1))

	body := scrape(t, c)
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions_created_total 2`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_session_create_failures_total 1`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions_destroyed_total{reason="idle"} 2`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions_destroyed_total{reason="discarded"} 1`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_take_timeouts_total 1`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_keepalive_failures_total 1`))
	g.Expect(body).To(ContainSubstring(`remotefs_attribute_cache_hits_total 1`))
	g.Expect(body).To(ContainSubstring(`remotefs_attribute_cache_misses_total 2`))
}

func TestCollector_TracksLivePool(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	c := newCollector(t)

	factory := session.NewMemFactory(session.NewMemServer(), session.Capabilities{})

	sessions, err := pool.New[session.Session](pool.Config{
		MinSize:           2,
		CoreSize:          2,
		MaxSize:           4,
		ConnectionTimeout: time.Second,
		IdleCheckInterval: time.Hour,
		KeepAliveInterval: time.Hour,
	}, factory.NewSession, pool.WithObserver(c))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.TrackPool(sessions.Stats)).To(Succeed())
	g.Expect(sessions.Start(context.Background())).To(Succeed())

	defer func() { _ = sessions.Stop() }()

	s, err := sessions.Take(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	body := scrape(t, c)
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions{state="free"} 1`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions{state="busy"} 1`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions{state="pending"} 0`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions_created_total 2`))

	sessions.Release(s)

	body = scrape(t, c)
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions{state="free"} 2`))
	g.Expect(body).To(ContainSubstring(`remotefs_pool_sessions{state="busy"} 0`))
}

func TestCollector_TrackPoolTwiceFails(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	c := newCollector(t)
	stats := func() pool.Stats { return pool.Stats{} }

	g.Expect(c.TrackPool(stats)).To(Succeed())
	g.Expect(c.TrackPool(stats)).To(HaveOccurred())
}

func TestCollector_Serve(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	c := newCollector(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- c.Serve(ctx, "127.0.0.1:0", nil) }()

	cancel()
	g.Eventually(done, 5*time.Second).Should(Receive(BeNil()))
}

func scrape(t *testing.T, c *metrics.Collector) string {
	t.Helper()

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading scrape failed: %v", err)
	}

	return string(body)
}
