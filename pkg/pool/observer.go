package pool

import "time"

// DestroyReason says why the pool closed a session.
type DestroyReason string

// Exported constants.
const (
	ReasonOverCore  DestroyReason = "over_core"
	ReasonIdle      DestroyReason = "idle"
	ReasonKeepAlive DestroyReason = "keepalive"
	ReasonDiscarded DestroyReason = "discarded"
	ReasonStopped   DestroyReason = "stopped"
)

// Observer receives pool lifecycle events. Implementations must be safe for
// concurrent use and must not call back into the pool.
type Observer interface {
	SessionCreated()
	SessionCreateFailed(err error)
	SessionDestroyed(reason DestroyReason)
	TakeWaited(d time.Duration)
	TakeTimedOut()
	KeepAliveFailed(err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) SessionCreated() {}
func (NopObserver) SessionCreateFailed(error) {}
func (NopObserver) SessionDestroyed(DestroyReason) {}
func (NopObserver) TakeWaited(time.Duration) {}
func (NopObserver) TakeTimedOut() {}
func (NopObserver) KeepAliveFailed(error) {}
