package tracker

// progress is the cosmetic completion indicator shown while polling. It is
// not a measurement: it starts at start, grows by step per PENDING
// observation (or jumps to the backend-reported value when higher), stays
// at or below limit until the artifact is retrieved, then reads 100.
type progress struct {
	start, step, limit int
	value              int
}

func newProgress(start, step, limit int) *progress {
	limit = clamp(limit, 0, 100)
	start = clamp(start, 0, limit)
	if step < 0 {
		step = 0
	}
	return &progress{start: start, step: step, limit: limit}
}

func (p *progress) submitted() int {
	p.raise(p.start)
	return p.value
}

func (p *progress) pending(reported *int) int {
	next := p.value + p.step
	if reported != nil && *reported > next {
		next = *reported
	}
	p.raise(clamp(next, 0, p.limit))
	return p.value
}

func (p *progress) complete() int {
	p.raise(100)
	return p.value
}

// raise never lowers the value.
func (p *progress) raise(v int) {
	if v > p.value {
		p.value = v
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
