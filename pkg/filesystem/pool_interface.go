package filesystem

import (
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/session"
)

// PoolInfo is implemented by filesystems backed by a session pool.
// Callers can use it to report pool occupancy and server features.
type PoolInfo interface {
	// PoolStats returns a snapshot of the pool's free, busy and pending
	// sessions and its configured bounds.
	PoolStats() pool.Stats

	// Capabilities returns the features detected on the server.
	Capabilities() session.Capabilities
}

var _ PoolInfo = (*Provider)(nil)
