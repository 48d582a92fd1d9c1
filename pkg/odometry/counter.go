package odometry

// Counter extends a 32-bit hardware count register into an int64 that
// survives register overflow. Deltas are taken modulo 2^32, so the
// register must be sampled at least once per half wrap.
type Counter struct {
	acc    int64
	last   int32
	primed bool
}

// Observe folds a raw register reading into the extended count.
func (c *Counter) Observe(raw int32) int64 {
	if !c.primed {
		c.last = raw
		c.acc = int64(raw)
		c.primed = true
		return c.acc
	}
	delta := raw - c.last
	c.acc += int64(delta)
	c.last = raw
	return c.acc
}

// Reset forgets the history. The next Observe starts a new baseline.
func (c *Counter) Reset() {
	*c = Counter{}
}
