package filesystem

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/session"
)

// Options describe one remote filesystem connection.
type Options struct {
	Session session.Config
	Pool    pool.Config
	// WorkingDir is where relative paths resolve. Defaults to "/".
	WorkingDir string
	// CacheTTL defaults to DefaultCacheTTL; a negative value disables caching.
	CacheTTL time.Duration
	TempDir  string

	Logger        logrus.FieldLogger
	PoolObserver  pool.Observer
	CacheObserver CacheObserver
}

// Connect builds the session factory and pool, starts the pool and returns
// a Provider over it. Close the Provider to release every connection.
func Connect(ctx context.Context, opts Options) (*Provider, error) {
	factory, err := session.NewFactory(opts.Session, opts.Logger)
	if err != nil {
		return nil, err
	}

	poolOpts := []pool.Option{pool.WithLogger(opts.Logger)}
	if opts.PoolObserver != nil {
		poolOpts = append(poolOpts, pool.WithObserver(opts.PoolObserver))
	}

	sessions, err := pool.New[session.Session](opts.Pool, factory.NewSession, poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session pool: %w", err)
	}

	if err := sessions.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Session.Host, err)
	}

	// Start opened at least one session, so the probe has run.
	caps, _ := factory.Capabilities()

	ttl := opts.CacheTTL
	switch {
	case ttl == 0:
		ttl = DefaultCacheTTL
	case ttl < 0:
		ttl = 0
	}

	providerOpts := []ProviderOption{
		WithLogger(opts.Logger),
		WithCacheTTL(ttl),
		WithTempDir(opts.TempDir),
	}

	if opts.WorkingDir != "" {
		providerOpts = append(providerOpts, WithWorkingDir(opts.WorkingDir))
	}

	if opts.CacheObserver != nil {
		providerOpts = append(providerOpts, WithCacheObserver(opts.CacheObserver))
	}

	return NewProvider(sessions, caps, providerOpts...), nil
}
