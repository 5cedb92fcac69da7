// Package filesystem exposes a pooled remote server as a path-addressed
// filesystem.
//
// Every operation borrows a session from the pool, performs its protocol
// calls and returns the session on every exit path. A session whose
// connection broke is discarded instead of returned. Metadata learned from
// listings is kept in a short-lived attribute cache so that a stat right
// after a listing needs no round trip; every mutation invalidates the paths
// it touches.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/session"
)

// DefaultCacheTTL is how long listed attributes stay valid.
const DefaultCacheTTL = 5 * time.Second

// SessionPool lends sessions. *pool.Pool[session.Session] implements it.
type SessionPool interface {
	Take(ctx context.Context) (session.Session, error)
	Release(s session.Session)
	Discard(s session.Session)
	Stats() pool.Stats
	Stop() error
}

// Provider implements filesystem operations over a SessionPool.
type Provider struct {
	pool    SessionPool
	caps    session.Capabilities
	cache   *AttributeCache
	workDir string
	tempDir string
	logger  logrus.FieldLogger
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	logger        logrus.FieldLogger
	cacheTTL      time.Duration
	cacheObserver CacheObserver
	now           func() time.Time
	workDir       string
	tempDir       string
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) ProviderOption {
	return func(o *providerOptions) { o.logger = logger }
}

// WithCacheTTL sets the attribute cache lifetime. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) ProviderOption {
	return func(o *providerOptions) { o.cacheTTL = ttl }
}

// WithCacheObserver receives cache hit and miss events.
func WithCacheObserver(observer CacheObserver) ProviderOption {
	return func(o *providerOptions) { o.cacheObserver = observer }
}

// WithClock replaces the clock used for cache expiry.
func WithClock(now func() time.Time) ProviderOption {
	return func(o *providerOptions) { o.now = now }
}

// WithWorkingDir sets the directory relative paths resolve against.
func WithWorkingDir(dir string) ProviderOption {
	return func(o *providerOptions) { o.workDir = dir }
}

// WithTempDir sets where channels stage file contents. Empty means
// os.TempDir.
func WithTempDir(dir string) ProviderOption {
	return func(o *providerOptions) { o.tempDir = dir }
}

// NewProvider returns a Provider for an already started pool.
func NewProvider(sessions SessionPool, caps session.Capabilities, opts ...ProviderOption) *Provider {
	options := providerOptions{cacheTTL: DefaultCacheTTL, workDir: "/"}
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	return &Provider{
		pool:    sessions,
		caps:    caps,
		cache:   NewAttributeCache(options.cacheTTL, options.now, options.cacheObserver),
		workDir: path.Clean("/" + options.workDir),
		tempDir: options.tempDir,
		logger:  logger.WithField("component", "filesystem"),
	}
}

// Capabilities returns the server features the provider relies on.
func (p *Provider) Capabilities() session.Capabilities {
	return p.caps
}

// Cache exposes the attribute cache.
func (p *Provider) Cache() *AttributeCache {
	return p.cache
}

// WorkingDir returns the directory relative paths resolve against.
func (p *Provider) WorkingDir() string {
	return p.workDir
}

// PoolStats implements PoolInfo.
func (p *Provider) PoolStats() pool.Stats {
	return p.pool.Stats()
}

// Close stops the pool and closes every session.
func (p *Provider) Close() error {
	if err := p.pool.Stop(); err != nil {
		return fmt.Errorf("failed to stop session pool: %w", err)
	}

	return nil
}

// Resolve returns the absolute, cleaned form of name.
func (p *Provider) Resolve(name string) string {
	if path.IsAbs(name) {
		return path.Clean(name)
	}

	return path.Join(p.workDir, name)
}

// List returns the children of dir, directories first and then by name.
func (p *Provider) List(ctx context.Context, dir string) ([]FileInfo, error) {
	dir = p.Resolve(dir)

	var infos []FileInfo

	err := p.withSession(ctx, func(s session.Session) error {
		var err error

		infos, err = p.list(s, dir)

		return err
	})
	if err != nil {
		return nil, err
	}

	return infos, nil
}

// Stat returns metadata for name. The root is answered without a round trip.
func (p *Provider) Stat(ctx context.Context, name string) (FileInfo, error) {
	name = p.Resolve(name)
	if name == "/" {
		return rootInfo(), nil
	}

	if info, ok := p.cache.Get(name); ok {
		return info, nil
	}

	var info FileInfo

	err := p.withSession(ctx, func(s session.Session) error {
		var err error

		info, err = p.statLive(s, name)

		return err
	})
	if err != nil {
		return FileInfo{}, err
	}

	return info, nil
}

// Mkdir creates one directory. The parent must exist.
func (p *Provider) Mkdir(ctx context.Context, name string) error {
	name = p.Resolve(name)
	defer p.invalidate(name)

	return p.withSession(ctx, func(s session.Session) error {
		return s.Mkdir(name)
	})
}

// MkdirAll creates name and any missing parents. Existing directories are
// not an error.
func (p *Provider) MkdirAll(ctx context.Context, name string) error {
	name = p.Resolve(name)
	if name == "/" {
		return nil
	}

	current := "/"

	for _, part := range strings.Split(strings.TrimPrefix(name, "/"), "/") {
		current = path.Join(current, part)

		info, err := p.Stat(ctx, current)

		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			return fmt.Errorf("mkdir %s: %w", current, pkgerrors.ErrNotADirectory)
		case !errors.Is(err, pkgerrors.ErrNotFound):
			return err
		}

		if err := p.Mkdir(ctx, current); err != nil {
			// Someone else may have created it meanwhile.
			if info, statErr := p.Stat(ctx, current); statErr == nil && info.IsDir() {
				continue
			}

			return err
		}
	}

	return nil
}

// Delete removes a file or an empty directory. It reports false when name
// did not exist. Non-empty directories fail with ErrDirectoryNotEmpty.
func (p *Provider) Delete(ctx context.Context, name string) (bool, error) {
	name = p.Resolve(name)
	if name == "/" {
		return false, fmt.Errorf("delete /: %w", pkgerrors.ErrPermission)
	}

	info, err := p.Stat(ctx, name)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	defer p.invalidateTree(name)

	err = p.withSession(ctx, func(s session.Session) error {
		if !info.IsDir() {
			return s.Remove(name)
		}

		entries, err := s.List(name)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if !isPseudoEntry(entry.Name) {
				return fmt.Errorf("delete %s: %w", name, pkgerrors.ErrDirectoryNotEmpty)
			}
		}

		return s.RemoveDir(name)
	})

	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

// Rename moves from to to. Whether an existing target is replaced depends on
// the server.
func (p *Provider) Rename(ctx context.Context, from, to string) error {
	from, to = p.Resolve(from), p.Resolve(to)

	defer func() {
		p.invalidateTree(from)
		p.invalidateTree(to)
	}()

	return p.withSession(ctx, func(s session.Session) error {
		return s.Rename(from, to)
	})
}

// withSession lends a session to fn and always gives it back. Sessions whose
// connection was lost are discarded.
func (p *Provider) withSession(ctx context.Context, fn func(session.Session) error) (err error) {
	s, err := p.pool.Take(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if errors.Is(err, pkgerrors.ErrConnectionLost) {
			p.logger.WithError(err).Debug("discarding broken session")
			p.pool.Discard(s)

			return
		}

		p.pool.Release(s)
	}()

	return fn(s)
}

// list reads dir on s, caching every child.
func (p *Provider) list(s session.Session, dir string) ([]FileInfo, error) {
	entries, err := s.List(dir)
	if err != nil {
		return nil, err
	}

	infos := make([]FileInfo, 0, len(entries))

	for _, entry := range entries {
		if isPseudoEntry(entry.Name) {
			continue
		}

		info := newFileInfo(path.Join(dir, entry.Name), entry)
		p.cache.Put(info)

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].IsDir() != infos[j].IsDir() {
			return infos[i].IsDir()
		}

		return infos[i].Name() < infos[j].Name()
	})

	return infos, nil
}

// statLive asks the server, bypassing the cache.
func (p *Provider) statLive(s session.Session, name string) (FileInfo, error) {
	if name == "/" {
		return rootInfo(), nil
	}

	if p.caps.StructuredStat {
		entry, err := s.Stat(name)
		if err == nil {
			info := newFileInfo(name, entry)
			p.cache.Put(info)

			return info, nil
		}

		if !errors.Is(err, pkgerrors.ErrUnsupported) {
			return FileInfo{}, err
		}
	}

	siblings, err := p.list(s, path.Dir(name))
	if err != nil {
		return FileInfo{}, err
	}

	base := path.Base(name)
	for _, info := range siblings {
		if info.Name() == base {
			return info, nil
		}
	}

	return FileInfo{}, fmt.Errorf("stat %s: %w", name, pkgerrors.ErrNotFound)
}

func (p *Provider) invalidate(name string) {
	p.cache.Invalidate(name)
	p.cache.Invalidate(path.Dir(name))
}

func (p *Provider) invalidateTree(name string) {
	p.cache.InvalidateTree(name)
	p.cache.Invalidate(path.Dir(name))
}

func (p *Provider) createTemp(pattern string) (*os.File, error) {
	file, err := os.CreateTemp(p.tempDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	return file, nil
}

func isPseudoEntry(name string) bool {
	return name == "." || name == ".."
}
