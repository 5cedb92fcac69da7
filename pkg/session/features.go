package session

import "sync"

// featureCache holds the capabilities probed on the first successful
// session. A failed probe leaves it empty so the next session probes again.
type featureCache struct {
	mu     sync.Mutex
	caps   Capabilities
	probed bool
}

func (c *featureCache) get() (Capabilities, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.caps, c.probed
}

// resolve returns the cached capabilities or runs probe and caches its result.
// The second return value reports whether probe ran.
func (c *featureCache) resolve(probe func() (Capabilities, error)) (Capabilities, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.probed {
		return c.caps, false, nil
	}

	caps, err := probe()
	if err != nil {
		return Capabilities{}, true, err
	}

	c.caps = caps
	c.probed = true

	return caps, true, nil
}
