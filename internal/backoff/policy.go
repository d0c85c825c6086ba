// Package backoff implements the retry policy shared by the outage tracker
// and the process watchdog: a failure budget over a sliding window, and a
// delay that doubles while the budget is exceeded.
package backoff

import (
	"sync"
	"time"
)

// Decision is the outcome of recording one failure.
type Decision struct {
	// Delay to wait before the next attempt.
	Delay time.Duration
	// Count of failures inside the window, including this one.
	Count int
	// Exceeded is true when Count is over the budget.
	Exceeded bool
}

// Policy tracks failures over a sliding window. It is safe for concurrent use.
type Policy struct {
	initial time.Duration
	max     time.Duration
	budget  int
	window  time.Duration

	mu      sync.Mutex
	events  []time.Time
	current time.Duration
}

// New builds a policy. max below initial is raised to initial.
func New(initial, max time.Duration, budget int, window time.Duration) *Policy {
	if max < initial {
		max = initial
	}
	return &Policy{
		initial: initial,
		max:     max,
		budget:  budget,
		window:  window,
		current: initial,
	}
}

// Record registers a failure observed at `at` and returns the resulting
// delay. While the window holds more than budget failures the delay
// doubles on every call up to max; otherwise it resets to initial.
func (p *Policy) Record(at time.Time) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(at)
	p.events = append(p.events, at)

	exceeded := len(p.events) > p.budget
	if exceeded {
		next := p.current * 2
		if next > p.max || next <= 0 {
			next = p.max
		}
		p.current = next
	} else {
		p.current = p.initial
	}
	return Decision{Delay: p.current, Count: len(p.events), Exceeded: exceeded}
}

// Attempt returns the delay before retry number n (1-based) of one
// ongoing failure: initial doubled n-1 times, capped at max. It does not
// touch the failure budget.
func (p *Policy) Attempt(n int) time.Duration {
	d := p.initial
	for i := 1; i < n && d < p.max; i++ {
		d *= 2
	}
	if d > p.max || d <= 0 {
		d = p.max
	}
	return d
}

// Seed replays previously persisted failures, oldest first, so a restarted
// process resumes with the same budget and delay.
func (p *Policy) Seed(history []time.Time) {
	for _, at := range history {
		p.Record(at)
	}
}

// Count returns the failures inside the window ending at `at`.
func (p *Policy) Count(at time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(at)
	return len(p.events)
}

// Delay returns the delay chosen by the last Record.
func (p *Policy) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Reset forgets all failures.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.current = p.initial
}

// Window returns the sliding window length.
func (p *Policy) Window() time.Duration { return p.window }

func (p *Policy) pruneLocked(at time.Time) {
	cutoff := at.Add(-p.window)
	keep := p.events[:0]
	for _, t := range p.events {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	p.events = keep
}
