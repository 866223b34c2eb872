package sandbox

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Context tracks resource consumption for a single plugin invocation.
// It is created fresh per invocation and never reused.
type Context struct {
	limits    Limits
	start     time.Time
	started   bool
	hostCalls atomic.Uint64
}

func NewContext(limits Limits) *Context {
	return &Context{limits: limits}
}

// Start marks the beginning of the timed execution window and resets
// the call counter.
func (c *Context) Start() {
	c.start = time.Now()
	c.started = true
	c.hostCalls.Store(0)
}

// CheckTimeout fails once the elapsed time exceeds the CPU budget.
// Before Start is called there is no window to exceed, so it succeeds.
func (c *Context) CheckTimeout() error {
	if !c.started {
		return nil
	}
	if elapsed := time.Since(c.start); elapsed > c.limits.CPUTimeout {
		return fmt.Errorf("%w: elapsed %s, budget %s", ErrTimeout, elapsed, c.limits.CPUTimeout)
	}
	return nil
}

// RecordHostCall counts one host call against the quota. The counter is
// incremented before the check, so the call that lands exactly on the
// quota still succeeds and the next one fails.
func (c *Context) RecordHostCall() error {
	n := c.hostCalls.Add(1)
	if n > c.limits.MaxHostCalls {
		return fmt.Errorf("%w: %d calls, quota %d", ErrHostCallQuota, n, c.limits.MaxHostCalls)
	}
	return nil
}

// HostCalls returns the number of host calls recorded so far.
func (c *Context) HostCalls() uint64 {
	return c.hostCalls.Load()
}

// Elapsed returns time spent since Start, or zero if never started.
func (c *Context) Elapsed() time.Duration {
	if !c.started {
		return 0
	}
	return time.Since(c.start)
}

func (c *Context) Limits() Limits {
	return c.limits
}
