package drive

import "sync"

// quadStep maps prev<<2|cur phase states to a count delta. Transitions
// where both channels change at once are invalid and count zero.
var quadStep = [16]int8{
	0, 1, -1, 0,
	-1, 0, 0, 1,
	1, 0, 0, -1,
	0, -1, 1, 0,
}

// grayPhase is the A/B sequence for forward rotation.
var grayPhase = [4]uint8{0b00, 0b01, 0b11, 0b10}

// Quadrature is a 4x decoder for one A/B encoder: every edge on either
// channel moves the count by one. The count wraps like a 32-bit
// hardware register.
type Quadrature struct {
	mu      sync.Mutex
	state   uint8
	count   int32
	invalid uint64 // skipped-state transitions
}

// Step feeds the current channel levels.
func (q *Quadrature) Step(a, b bool) {
	var cur uint8
	if a {
		cur |= 0b10
	}
	if b {
		cur |= 0b01
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if cur == q.state {
		return
	}
	d := quadStep[q.state<<2|cur]
	if d == 0 {
		q.invalid++
	}
	q.count += int32(d)
	q.state = cur
}

// Count returns the decoded count.
func (q *Quadrature) Count() int32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Clear zeroes the count; the phase state is kept.
func (q *Quadrature) Clear() {
	q.mu.Lock()
	q.count = 0
	q.mu.Unlock()
}

// phaseGen produces the A/B levels of a rotating encoder disc.
type phaseGen struct {
	idx int
}

// advance moves n edges (negative for reverse) and feeds each to q.
func (p *phaseGen) advance(n int64, q *Quadrature) {
	dir := 1
	if n < 0 {
		dir, n = -1, -n
	}
	for ; n > 0; n-- {
		p.idx = (p.idx + dir + 4) % 4
		ph := grayPhase[p.idx]
		q.Step(ph&0b10 != 0, ph&0b01 != 0)
	}
}
