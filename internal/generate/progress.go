package generate

import "math"

// ceiling keeps an unfinished run below 100%.
const ceiling = 99.0

// Progress estimates completion as completed leaves plus the fraction of the
// current leaf written so far. Reported values never decrease.
type Progress struct {
	total     int
	completed int
	last      float64
}

// NewProgress starts a tracker for total leaves, completed of which are
// already done.
func NewProgress(total, completed int) *Progress {
	p := &Progress{total: total, completed: completed}
	p.last = p.clamp(p.base())
	return p
}

func (p *Progress) base() float64 {
	if p.total == 0 {
		return 0
	}
	return float64(p.completed) / float64(p.total) * 100
}

func (p *Progress) clamp(v float64) float64 {
	v = math.Min(v, ceiling)
	if v < p.last {
		return p.last
	}
	p.last = v
	return v
}

// Partial reports progress with partial of expected characters written
// for the current leaf.
func (p *Progress) Partial(partial, expected int) float64 {
	frac := 0.0
	if expected > 0 {
		frac = math.Min(float64(partial)/float64(expected), 1)
	}
	step := 0.0
	if p.total > 0 {
		step = 100 / float64(p.total)
	}
	return p.clamp(p.base() + frac*step)
}

// LeafDone records one more completed leaf.
func (p *Progress) LeafDone() float64 {
	if p.completed < p.total {
		p.completed++
	}
	return p.clamp(p.base())
}

// Finish marks the run complete.
func (p *Progress) Finish() float64 {
	p.last = 100
	return 100
}

// Value returns the last reported value.
func (p *Progress) Value() float64 { return p.last }

// Completed returns the number of finished leaves.
func (p *Progress) Completed() int { return p.completed }

// Total returns the number of leaves in the run.
func (p *Progress) Total() int { return p.total }
