package ring

import "time"

// defaultExpectedRate is used until a caller seeds a better estimate.
const defaultExpectedRate = 1000.

// rateAverage keeps a running average of the scalar write rate. The first
// update only records the reference time; the average converges with every
// subsequent update.
type rateAverage struct {
	avg     float64
	count   int
	started time.Time
}

func newRateAverage(seed float64) *rateAverage {
	if seed <= 0 {
		seed = defaultExpectedRate
	}
	return &rateAverage{avg: seed}
}

func (r *rateAverage) update(n int) {
	if r.started.IsZero() {
		r.started = time.Now()
		return
	}
	r.count += n
	if elapsed := time.Since(r.started).Seconds(); elapsed > 0 {
		r.avg = float64(r.count) / elapsed
	}
}

func (r *rateAverage) average() float64 {
	return r.avg
}
