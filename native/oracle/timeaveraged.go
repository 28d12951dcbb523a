package oracle

import (
	"errors"
	"sync"
	"time"
)

var (
	errNilSpotOracle = errors.New("rate oracle: spot oracle not configured")
	errCooldown      = errors.New("rate oracle: update cooldown has not elapsed")
)

// SpotRateOracle reports the instantaneous borrow rate of an external market
// in basis points.
type SpotRateOracle interface {
	Rate() uint64
}

type totalsEntry struct {
	cumulative uint64 // running sum of rate * elapsed seconds
	timestamp  time.Time
}

// TimeAveragedRateOracle smooths a spot rate feed into a trailing average.
// Each Update appends a cumulative rate-seconds observation to a ring buffer;
// the average over the last N observations is the slope between the newest
// and oldest retained totals. A single outlier reading therefore moves the
// average proportionally to the time it was in effect, not by its magnitude.
type TimeAveragedRateOracle struct {
	mu       sync.RWMutex
	spot     SpotRateOracle
	cooldown time.Duration
	buffer   []totalsEntry
	size     int
	nowFn    func() time.Time
}

// NewTimeAveragedRateOracle seeds the buffer with a zero observation so the
// first averages are defined. Size is the number of retained observations,
// cooldown the minimum spacing between updates.
func NewTimeAveragedRateOracle(spot SpotRateOracle, cooldown time.Duration, size int) *TimeAveragedRateOracle {
	if size < 2 {
		size = 2
	}
	o := &TimeAveragedRateOracle{
		spot:     spot,
		cooldown: cooldown,
		size:     size,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	o.buffer = append(o.buffer, totalsEntry{cumulative: 0, timestamp: o.nowFn()})
	return o
}

// SetNowFunc overrides the time source. Primarily intended for tests; resets
// the seed observation to the new clock.
func (o *TimeAveragedRateOracle) SetNowFunc(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	o.nowFn = now
	o.buffer = []totalsEntry{{cumulative: 0, timestamp: now()}}
}

// Update appends a new cumulative observation. Callers are expected to invoke
// it on a fixed cadence (the daemon runs it on a ticker).
func (o *TimeAveragedRateOracle) Update() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.spot == nil {
		return errNilSpotOracle
	}
	now := o.nowFn()
	last := o.buffer[len(o.buffer)-1]
	elapsed := now.Sub(last.timestamp)
	if elapsed < o.cooldown {
		return errCooldown
	}
	entry := totalsEntry{
		cumulative: last.cumulative + o.spot.Rate()*uint64(elapsed/time.Second),
		timestamp:  now,
	}
	o.buffer = append(o.buffer, entry)
	if len(o.buffer) > o.size {
		o.buffer = o.buffer[len(o.buffer)-o.size:]
	}
	return nil
}

// Average returns the trailing average rate in basis points over the last
// points observations (capped at the retained history).
func (o *TimeAveragedRateOracle) Average(points int) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.buffer) < 2 {
		return 0
	}
	if points < 1 || points > len(o.buffer)-1 {
		points = len(o.buffer) - 1
	}
	newest := o.buffer[len(o.buffer)-1]
	oldest := o.buffer[len(o.buffer)-1-points]
	elapsed := newest.timestamp.Sub(oldest.timestamp)
	if elapsed <= 0 {
		return 0
	}
	return (newest.cumulative - oldest.cumulative) / uint64(elapsed/time.Second)
}

// WeeklyAPY implements BaseRateOracle using the last seven observations.
func (o *TimeAveragedRateOracle) WeeklyAPY() uint64 {
	return o.Average(7)
}

// FixedRateOracle returns a constant rate. It is the documented mock
// implementation used in tests and local wiring.
type FixedRateOracle struct {
	RateBps uint64
}

func (f FixedRateOracle) Rate() uint64      { return f.RateBps }
func (f FixedRateOracle) WeeklyAPY() uint64 { return f.RateBps }
