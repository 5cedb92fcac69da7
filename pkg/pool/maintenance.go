package pool

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	pkgerrors "github.com/joe/remotefs/pkg/errors"
)

var errStopping = errors.New("pool is stopping")

// ProcessIdleResources closes free sessions that have been idle longer than
// MaxIdleTime, oldest first, without taking free+busy below MinSize. It runs
// every IdleCheckInterval and returns the number of sessions closed.
func (p *Pool[R]) ProcessIdleResources() int {
	if p.cfg.MaxIdleTime <= 0 {
		return 0
	}

	now := p.clock.Now()

	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()

		return 0
	}

	budget := len(p.free) + len(p.busy) - p.cfg.MinSize
	if budget <= 0 {
		p.mu.Unlock()

		return 0
	}

	order := make([]int, len(p.free))
	for i := range order {
		order[i] = i
	}

	slices.SortStableFunc(order, func(a, b int) int {
		return p.free[a].freedAt.Compare(p.free[b].freedAt)
	})

	evict := make(map[int]bool)

	for _, i := range order {
		if budget == 0 || now.Sub(p.free[i].freedAt) <= p.cfg.MaxIdleTime {
			break
		}

		evict[i] = true
		budget--
	}

	victims := make([]R, 0, len(evict))

	if len(evict) > 0 {
		kept := make([]freeEntry[R], 0, len(p.free)-len(evict))

		for i, entry := range p.free {
			if evict[i] {
				victims = append(victims, entry.res)
			} else {
				kept = append(kept, entry)
			}
		}

		p.free = kept
		p.notifyLocked()
	}

	free, busy := len(p.free), len(p.busy)
	p.mu.Unlock()

	for _, res := range victims {
		_ = p.destroy(res, ReasonIdle)
	}

	if len(victims) > 0 {
		p.logger.WithFields(logrus.Fields{
			"evicted": len(victims),
			"free":    free,
			"busy":    busy,
		}).Debug("closed idle sessions")
	}

	return len(victims)
}

// SendKeepAlive probes every free session, one at a time. A probed session
// is counted as pending for the duration of the probe, so it cannot be lent
// out meanwhile. A probe that does not answer within ConnectionTimeout
// fails. Sessions that fail are closed and never handed out again.
// It runs every KeepAliveInterval and returns the number of failures.
func (p *Pool[R]) SendKeepAlive() int {
	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()

		return 0
	}

	stop := p.stop

	candidates := make([]R, 0, len(p.free))
	for _, entry := range p.free {
		candidates = append(candidates, entry.res)
	}

	p.mu.Unlock()

	failed := 0

	for _, res := range candidates {
		entry, ok := p.checkout(res)
		if !ok {
			continue
		}

		err := p.probe(res, stop)
		if errors.Is(err, errStopping) {
			p.dropPending()
			_ = p.destroy(res, ReasonStopped)

			return failed
		}

		if err != nil {
			p.dropPending()

			failed++

			p.observer.KeepAliveFailed(err)
			p.logger.WithError(err).Info("keep-alive failed, closing session")
			_ = p.destroy(res, ReasonKeepAlive)

			continue
		}

		p.checkin(entry)
	}

	return failed
}

// probe runs KeepAlive on res. It gives up after ConnectionTimeout or when
// stop is closed; the caller then closes res, which ends the pending call.
func (p *Pool[R]) probe(res R, stop <-chan struct{}) error {
	result := make(chan error, 1)

	go func() { result <- res.KeepAlive() }()

	timer := time.NewTimer(p.cfg.ConnectionTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("keep-alive: %w after %s", pkgerrors.ErrTimeout, p.cfg.ConnectionTimeout)
	case <-stop:
		return errStopping
	}
}

func (p *Pool[R]) dropPending() {
	p.mu.Lock()
	p.pending--
	p.notifyLocked()
	p.mu.Unlock()
}

func (p *Pool[R]) checkin(entry freeEntry[R]) {
	p.mu.Lock()
	p.pending--

	if p.started {
		p.free = append(p.free, entry)
		p.notifyLocked()
		p.mu.Unlock()

		return
	}

	p.notifyLocked()
	p.mu.Unlock()

	_ = p.destroy(entry.res, ReasonStopped)
}

// checkout moves res from the free list into pending if it is still free.
func (p *Pool[R]) checkout(res R) (freeEntry[R], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return freeEntry[R]{}, false
	}

	for i, entry := range p.free {
		if entry.res == res {
			p.free = slices.Delete(p.free, i, i+1)
			p.pending++

			return entry, true
		}
	}

	return freeEntry[R]{}, false
}

func (p *Pool[R]) maintain(idle, keepAlive Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer idle.Stop()
	defer keepAlive.Stop()

	for {
		select {
		case <-stop:
			return
		case <-idle.C():
			p.ProcessIdleResources()
		case <-keepAlive.C():
			p.SendKeepAlive()
		}
	}
}
