package ring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrStopped is returned when the liveness check fails while a reader
	// is waiting for samples.
	ErrStopped = errors.New("stream stopped while waiting for samples")

	// ErrTimeout is returned when the caller's context expires before the
	// requested sample count is available.
	ErrTimeout = errors.New("timed out waiting for samples")
)

// defaultMaxPollRate bounds how often a waiting reader re-checks the
// buffer, in polls per second.
const defaultMaxPollRate = 100.

// LivenessFunc reports whether the upstream producer is still running.
// Readers abort with ErrStopped once it returns false.
type LivenessFunc func() bool

// Reader performs blocking exact-count reads from one Buffer. Waits are
// paced by a rate limiter and bounded by the caller's context.
type Reader[T Scalar] struct {
	buf     *Buffer[T]
	limiter *rate.Limiter
	alive   LivenessFunc
}

// NewReader creates a reader over buf. maxPollRate caps the retry
// frequency; alive may be nil when no liveness check is wanted.
func NewReader[T Scalar](buf *Buffer[T], maxPollRate float64, alive LivenessFunc) *Reader[T] {
	if maxPollRate <= 0 {
		maxPollRate = defaultMaxPollRate
	}
	return &Reader[T]{
		buf:     buf,
		limiter: rate.NewLimiter(rate.Limit(maxPollRate), 1),
		alive:   alive,
	}
}

// ReadExact blocks until frames whole frames have been copied into dst.
// dst must hold at least frames*interleave scalars.
func (r *Reader[T]) ReadExact(ctx context.Context, dst []T, frames int) error {
	il := r.buf.Interleave()
	if len(dst) < frames*il {
		return fmt.Errorf("destination holds %d scalars, need %d", len(dst), frames*il)
	}
	read := 0
	for read < frames {
		if r.alive != nil && !r.alive() {
			return ErrStopped
		}
		// Request at most half the buffer so the writer keeps making
		// progress while we drain.
		request := min(max(r.buf.Size()/2, 1), frames-read)
		if avail := r.buf.FillCount(); avail < request {
			if err := waitForSamples(ctx, r.limiter, request-avail, r.buf.AverageRate()); err != nil {
				return err
			}
			continue
		}
		n, err := r.buf.Read(dst[read*il : (read+request)*il])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

// SyncReader performs lock-step blocking reads across parallel buffers
// that fill at the same frame rate, e.g. a sample buffer and its
// timestamp buffer.
type SyncReader[T Scalar] struct {
	bufs    []*Buffer[T]
	limiter *rate.Limiter
	alive   LivenessFunc
}

// NewSyncReader creates a lock-step reader over bufs.
func NewSyncReader[T Scalar](bufs []*Buffer[T], maxPollRate float64, alive LivenessFunc) *SyncReader[T] {
	if maxPollRate <= 0 {
		maxPollRate = defaultMaxPollRate
	}
	return &SyncReader[T]{
		bufs:    bufs,
		limiter: rate.NewLimiter(rate.Limit(maxPollRate), 1),
		alive:   alive,
	}
}

func (r *SyncReader[T]) minFillCount() int {
	m := r.bufs[0].FillCount()
	for _, buf := range r.bufs[1:] {
		m = min(m, buf.FillCount())
	}
	return m
}

func (r *SyncReader[T]) minSize() int {
	m := r.bufs[0].Size()
	for _, buf := range r.bufs[1:] {
		m = min(m, buf.Size())
	}
	return m
}

func (r *SyncReader[T]) averageRate() float64 {
	total := 0.
	for _, buf := range r.bufs {
		total += buf.AverageRate()
	}
	return total / float64(len(r.bufs))
}

// ReadExact blocks until frames whole frames have been copied from each
// buffer into the matching destination slice. All buffers are drained by
// the same frame count each iteration so they stay aligned.
func (r *SyncReader[T]) ReadExact(ctx context.Context, dsts [][]T, frames int) error {
	if len(dsts) != len(r.bufs) {
		return fmt.Errorf("got %d destinations for %d buffers", len(dsts), len(r.bufs))
	}
	for i, buf := range r.bufs {
		if need := frames * buf.Interleave(); len(dsts[i]) < need {
			return fmt.Errorf("destination %d holds %d scalars, need %d", i, len(dsts[i]), need)
		}
	}
	read := 0
	for read < frames {
		if r.alive != nil && !r.alive() {
			return ErrStopped
		}
		request := min(max(r.minSize()/2, 1), frames-read)
		avail := r.minFillCount()
		if avail < request {
			if err := waitForSamples(ctx, r.limiter, request-avail, r.averageRate()); err != nil {
				return err
			}
			continue
		}
		request = min(request, r.minFillCount())
		for i, buf := range r.bufs {
			il := buf.Interleave()
			if _, err := buf.Read(dsts[i][read*il : (read+request)*il]); err != nil {
				return err
			}
		}
		read += request
	}
	return nil
}

// waitForSamples sleeps until deficit samples are expected to have
// arrived, at least one limiter interval, honoring ctx.
func waitForSamples(ctx context.Context, limiter *rate.Limiter, deficit int, avgRate float64) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if avgRate <= 0 {
		return nil
	}
	expected := time.Duration(float64(deficit) / avgRate * float64(time.Second))
	if extra := expected - time.Duration(float64(time.Second)/float64(limiter.Limit())); extra > 0 {
		timer := time.NewTimer(extra)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}
	return nil
}
