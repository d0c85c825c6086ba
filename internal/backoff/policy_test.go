package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBudgetEscalatesOnSixthFailureWithinWindow(t *testing.T) {
	p := New(10*time.Second, 10*time.Second, 5, time.Hour)

	for i := 0; i < 5; i++ {
		d := p.Record(base.Add(time.Duration(i) * time.Minute))
		require.False(t, d.Exceeded, "failure %d", i+1)
		require.Equal(t, 10*time.Second, d.Delay)
	}

	d := p.Record(base.Add(10 * time.Minute))
	require.True(t, d.Exceeded)
	require.Equal(t, 6, d.Count)
}

func TestBudgetResetsAfterWindowSlides(t *testing.T) {
	p := New(10*time.Second, 10*time.Second, 5, time.Hour)

	for i := 0; i < 6; i++ {
		p.Record(base.Add(time.Duration(i) * time.Minute))
	}

	d := p.Record(base.Add(2 * time.Hour))
	require.False(t, d.Exceeded)
	require.Equal(t, 1, d.Count)
}

func TestDelayDoublesWhileExceededAndCaps(t *testing.T) {
	p := New(time.Second, 10*time.Second, 2, time.Minute)

	var delays []time.Duration
	for i := 0; i < 7; i++ {
		delays = append(delays, p.Record(base.Add(time.Duration(i)*time.Second)).Delay)
	}

	require.Equal(t, []time.Duration{
		time.Second, time.Second,
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		10 * time.Second, 10 * time.Second,
	}, delays)
}

func TestDelayResetsOnceBackUnderBudget(t *testing.T) {
	p := New(time.Second, time.Minute, 1, time.Minute)

	p.Record(base)
	require.Equal(t, 2*time.Second, p.Record(base.Add(time.Second)).Delay)
	require.Equal(t, time.Second, p.Record(base.Add(5*time.Minute)).Delay)
}

func TestSeedReplaysHistory(t *testing.T) {
	p := New(time.Second, time.Minute, 2, time.Minute)
	p.Seed([]time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)})

	require.Equal(t, 3, p.Count(base.Add(3*time.Second)))
	require.Equal(t, 2*time.Second, p.Delay())
	require.Equal(t, 4*time.Second, p.Record(base.Add(4*time.Second)).Delay)
}

func TestAttemptDoublesPerRetryAndCaps(t *testing.T) {
	p := New(10*time.Second, time.Minute, 5, time.Hour)

	require.Equal(t, 10*time.Second, p.Attempt(0))
	require.Equal(t, 10*time.Second, p.Attempt(1))
	require.Equal(t, 20*time.Second, p.Attempt(2))
	require.Equal(t, 40*time.Second, p.Attempt(3))
	require.Equal(t, time.Minute, p.Attempt(4))
	require.Equal(t, time.Minute, p.Attempt(50))
	require.Zero(t, p.Count(base))
}
