package engine

// Clock is a countdown in whole seconds. It only moves when Tick is called,
// so one scheduler drives every clock and tests can drive it by hand.
//
// A clock is started and stopped by its session; callers can only tick it.
type Clock struct {
	remaining int
	running   bool
	expired   bool
	onExpire  func()
}

// NewClock creates a stopped clock with the given number of seconds.
func NewClock(seconds int, onExpire func()) *Clock {
	if seconds < 0 {
		seconds = 0
	}
	return &Clock{remaining: seconds, onExpire: onExpire}
}

// Tick advances a running clock by one second. It reports whether the
// remaining time changed. Reaching zero fires onExpire once and stops the clock.
func (c *Clock) Tick() bool {
	if !c.running || c.remaining == 0 {
		return false
	}
	c.remaining--
	if c.remaining == 0 {
		c.running = false
		c.expired = true
		if c.onExpire != nil {
			c.onExpire()
		}
	}
	return true
}

// Remaining returns the seconds left.
func (c *Clock) Remaining() int { return c.remaining }

// Running reports whether ticks currently move the clock.
func (c *Clock) Running() bool { return c.running }

// Expired reports whether the clock reached zero.
func (c *Clock) Expired() bool { return c.expired }

func (c *Clock) start() {
	if !c.expired && c.remaining > 0 {
		c.running = true
	}
}

func (c *Clock) stop() { c.running = false }
