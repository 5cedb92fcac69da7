// Package pool lends a bounded set of expensive, stateful sessions to
// concurrent callers.
//
// A Pool keeps sessions in a free list and a busy set. Take hands out a free
// session, opens a new one while the pool is below MaxSize, or waits for a
// Release until ConnectionTimeout elapses. Released sessions are closed
// instead of kept once the pool holds more than CoreSize. A background
// goroutine evicts sessions idle for longer than MaxIdleTime (never going
// below MinSize) and probes free sessions with KeepAlive.
//
// All bookkeeping happens under one mutex. Opening, closing and probing
// sessions happen outside it; the pending counter reserves their capacity so
// that free+busy+pending never exceeds MaxSize.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

// Resource is a pooled session. Values are compared by identity, so pointer
// or interface types are expected.
type Resource interface {
	comparable
	KeepAlive() error
	Close() error
}

// Factory opens one new resource.
type Factory[R Resource] func(ctx context.Context) (R, error)

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Free     int
	Busy     int
	Pending  int
	Started  bool
	MinSize  int
	CoreSize int
	MaxSize  int
}

// Total counts every session the pool owns or is opening.
func (s Stats) Total() int {
	return s.Free + s.Busy + s.Pending
}

// Option configures a Pool.
type Option func(*options)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver sets the event observer.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithTimeProvider replaces the wall clock used for idle bookkeeping and
// background tickers.
func WithTimeProvider(tp TimeProvider) Option {
	return func(o *options) { o.clock = tp }
}

// Pool is a bounded session pool. The zero value is not usable; call New.
type Pool[R Resource] struct {
	cfg      Config
	factory  Factory[R]
	logger   logrus.FieldLogger
	observer Observer
	clock    TimeProvider

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu      sync.Mutex
	free    []freeEntry[R]
	busy    map[R]struct{}
	pending int
	started bool
	// changed is closed and replaced whenever a waiter should re-check.
	changed chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New validates cfg and builds a stopped pool.
func New[R Resource](cfg Config, factory Factory[R], opts ...Option) (*Pool[R], error) {
	if factory == nil {
		return nil, errors.New("pool factory must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	o := options{observer: NopObserver{}, clock: &RealTimeProvider{}}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		o.logger = discard
	}

	if o.observer == nil {
		o.observer = NopObserver{}
	}

	if o.clock == nil {
		o.clock = &RealTimeProvider{}
	}

	return &Pool[R]{
		cfg:      cfg.withDefaults(),
		factory:  factory,
		logger:   o.logger.WithField("component", "pool"),
		observer: o.observer,
		clock:    o.clock,
		busy:     make(map[R]struct{}),
		changed:  make(chan struct{}),
	}, nil
}

// Start opens max(1, MinSize) sessions and starts the background tasks.
// It fails only if not a single session could be opened.
func (p *Pool[R]) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	alreadyStarted := p.started
	p.mu.Unlock()

	if alreadyStarted {
		return errors.New("pool already started")
	}

	want := max(1, p.cfg.MinSize)
	created := make([]R, 0, want)

	var lastErr error

	for range want {
		if err := ctx.Err(); err != nil {
			lastErr = err

			break
		}

		res, err := p.create(ctx)
		if err != nil {
			lastErr = err

			continue
		}

		created = append(created, res)
	}

	if len(created) == 0 {
		return fmt.Errorf("failed to open any of %d initial sessions: %w", want, lastErr)
	}

	if len(created) < want {
		p.logger.WithError(lastErr).WithFields(logrus.Fields{
			"opened": len(created),
			"wanted": want,
		}).Warn("could not open the minimum number of sessions")
	}

	idle := p.clock.NewTicker(p.cfg.IdleCheckInterval)
	keepAlive := p.clock.NewTicker(p.cfg.KeepAliveInterval)
	now := p.clock.Now()

	p.mu.Lock()
	for _, res := range created {
		p.free = append(p.free, freeEntry[R]{res: res, freedAt: now})
	}

	p.started = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.notifyLocked()
	p.mu.Unlock()

	go p.maintain(idle, keepAlive, stop, done)

	return nil
}

// Take lends a session to the caller, who must hand it back with Release or
// Discard. It waits at most ConnectionTimeout (or until ctx ends). A failed
// session creation does not end the wait; the creation is retried after a
// short back-off and the last failure is reported if the wait times out.
func (p *Pool[R]) Take(ctx context.Context) (R, error) {
	var zero R

	begin := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	var (
		lastErr    error
		retryAt    time.Time
		retryTimer *time.Timer
	)

	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()

	for {
		p.mu.Lock()
		if !p.started {
			p.mu.Unlock()

			return zero, pkgerrors.ErrPoolNotStarted
		}

		if res, ok := p.popFreeLocked(); ok {
			p.mu.Unlock()
			p.observer.TakeWaited(time.Since(begin))

			return res, nil
		}

		canCreate := p.totalLocked() < p.cfg.MaxSize && !time.Now().Before(retryAt)
		if canCreate {
			p.pending++
		}

		changed := p.changed
		p.mu.Unlock()

		if canCreate {
			res, err := p.create(waitCtx)
			if err == nil {
				return p.admit(res, begin)
			}

			lastErr = err
			retryAt = time.Now().Add(createRetryInterval)

			p.logger.WithError(err).Warn("failed to open session, waiting for one to become available")

			changed = p.abandonPending()
		}

		var retryC <-chan time.Time

		if wait := time.Until(retryAt); wait > 0 {
			if retryTimer == nil {
				retryTimer = time.NewTimer(wait)
			} else {
				retryTimer.Reset(wait)
			}

			retryC = retryTimer.C
		}

		select {
		case <-changed:
		case <-retryC:
		case <-waitCtx.Done():
			return zero, p.takeFailed(ctx, begin, lastErr)
		}
	}
}

// Release returns a borrowed session. Sessions that are not busy are ignored.
func (p *Pool[R]) Release(res R) {
	p.mu.Lock()

	if _, ok := p.busy[res]; !ok {
		p.mu.Unlock()

		return
	}

	delete(p.busy, res)

	overCore := len(p.free)+len(p.busy)+1 > p.cfg.CoreSize
	if !overCore {
		p.free = append(p.free, freeEntry[R]{res: res, freedAt: p.clock.Now()})
	}

	p.notifyLocked()
	p.mu.Unlock()

	if overCore {
		_ = p.destroy(res, ReasonOverCore)
	}
}

// Discard closes a borrowed session the caller knows to be broken instead of
// returning it. Sessions that are not busy are ignored.
func (p *Pool[R]) Discard(res R) {
	p.mu.Lock()

	if _, ok := p.busy[res]; !ok {
		p.mu.Unlock()

		return
	}

	delete(p.busy, res)
	p.notifyLocked()
	p.mu.Unlock()

	_ = p.destroy(res, ReasonDiscarded)
}

// Stats returns a consistent snapshot of pool occupancy.
func (p *Pool[R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Free:     len(p.free),
		Busy:     len(p.busy),
		Pending:  p.pending,
		Started:  p.started,
		MinSize:  p.cfg.MinSize,
		CoreSize: p.cfg.CoreSize,
		MaxSize:  p.cfg.MaxSize,
	}
}

// Stop wakes every waiter (they fail with ErrPoolNotStarted), stops the
// background tasks and waits for them, then closes every free and busy
// session. It is safe to call more than once and on a pool that never
// started.
func (p *Pool[R]) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.started = false
	p.notifyLocked()
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	p.mu.Lock()
	victims := make([]R, 0, len(p.free)+len(p.busy))

	for _, entry := range p.free {
		victims = append(victims, entry.res)
	}

	for res := range p.busy {
		victims = append(victims, res)
	}

	p.free = nil
	clear(p.busy)
	p.mu.Unlock()

	var errs []error

	for _, res := range victims {
		if err := p.destroy(res, ReasonStopped); err != nil {
			errs = append(errs, err)
		}
	}

	if len(victims) > 0 {
		p.logger.WithField("closed", len(victims)).Debug("pool stopped")
	}

	return errors.Join(errs...)
}

// unexported constants.
const (
	createRetryInterval = 250 * time.Millisecond
)

type freeEntry[R Resource] struct {
	res     R
	freedAt time.Time
}

type options struct {
	logger   logrus.FieldLogger
	observer Observer
	clock    TimeProvider
}

func (p *Pool[R]) abandonPending() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending--
	p.notifyLocked()

	return p.changed
}

func (p *Pool[R]) admit(res R, begin time.Time) (R, error) {
	p.mu.Lock()
	p.pending--

	if !p.started {
		p.notifyLocked()
		p.mu.Unlock()

		_ = p.destroy(res, ReasonStopped)

		var zero R

		return zero, pkgerrors.ErrPoolNotStarted
	}

	p.busy[res] = struct{}{}
	p.mu.Unlock()

	p.observer.TakeWaited(time.Since(begin))

	return res, nil
}

func (p *Pool[R]) create(ctx context.Context) (R, error) {
	res, err := p.factory(ctx)
	if err != nil {
		p.observer.SessionCreateFailed(err)

		return res, err
	}

	p.observer.SessionCreated()

	return res, nil
}

func (p *Pool[R]) destroy(res R, reason DestroyReason) error {
	err := res.Close()
	p.observer.SessionDestroyed(reason)

	if err != nil {
		p.logger.WithError(err).WithField("reason", reason).Debug("error closing session")
	}

	return err
}

func (p *Pool[R]) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Pool[R]) popFreeLocked() (R, bool) {
	n := len(p.free)
	if n == 0 {
		var zero R

		return zero, false
	}

	entry := p.free[n-1]
	p.free[n-1] = freeEntry[R]{}
	p.free = p.free[:n-1]
	p.busy[entry.res] = struct{}{}

	return entry.res, true
}

func (p *Pool[R]) takeFailed(ctx context.Context, begin time.Time, lastErr error) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("waiting for a session: %w", err)
	}

	p.observer.TakeTimedOut()

	waited := time.Since(begin).Round(time.Millisecond)
	if lastErr != nil {
		return fmt.Errorf("%w after %s: %w", pkgerrors.ErrTimeout, waited, lastErr)
	}

	return fmt.Errorf("%w after %s", pkgerrors.ErrTimeout, waited)
}

func (p *Pool[R]) totalLocked() int {
	return len(p.free) + len(p.busy) + p.pending
}
