package ring

import (
	"errors"
	"sync"
)

var (
	// ErrBufferFull is returned by Write on a full buffer that does not
	// allow overwriting.
	ErrBufferFull = errors.New("ring buffer is full and overwrite is disabled")

	// ErrFrameAlignment is returned when a slice length is not a multiple
	// of the buffer's interleave factor.
	ErrFrameAlignment = errors.New("slice length is not a multiple of the interleave factor")
)

// Scalar constrains the element types a Buffer can store.
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// Buffer is a fixed-capacity circular buffer. Elements are grouped into
// frames of interleave scalars each; a plain buffer has interleave 1.
//
// All counts exposed by the public API (Size, FillCount, FreeCount, Read
// return value) are in frames. Write and Read operate on flat scalar
// slices whose length must be a multiple of the interleave factor.
type Buffer[T Scalar] struct {
	mu    sync.Mutex
	buf   []T
	start int
	end   int
	fill  int // scalars

	interleave     int
	allowOverwrite bool
	rate           *rateAverage
}

// New creates a buffer holding size scalars with interleave factor 1.
func New[T Scalar](size int, allowOverwrite bool) *Buffer[T] {
	return NewInterleaved[T](1, size, allowOverwrite)
}

// NewInterleaved creates a buffer holding size frames of interleave
// scalars each.
func NewInterleaved[T Scalar](interleave, size int, allowOverwrite bool) *Buffer[T] {
	if interleave < 1 {
		interleave = 1
	}
	if size < 1 {
		size = 1
	}
	return &Buffer[T]{
		buf:            make([]T, size*interleave),
		interleave:     interleave,
		allowOverwrite: allowOverwrite,
		rate:           newRateAverage(defaultExpectedRate),
	}
}

// SetExpectedRate seeds the running rate average used before enough
// writes have been observed.
func (b *Buffer[T]) SetExpectedRate(framesPerSecond float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = newRateAverage(framesPerSecond * float64(b.interleave))
}

// Size returns the capacity in frames.
func (b *Buffer[T]) Size() int {
	return len(b.buf) / b.interleave
}

// Interleave returns the number of scalars per frame.
func (b *Buffer[T]) Interleave() int {
	return b.interleave
}

// FillCount returns the number of buffered frames.
func (b *Buffer[T]) FillCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fill / b.interleave
}

// FreeCount returns the number of free frames.
func (b *Buffer[T]) FreeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (len(b.buf) - b.fill) / b.interleave
}

// Full reports whether the buffer holds Size frames.
func (b *Buffer[T]) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fill >= len(b.buf)
}

// Empty reports whether the buffer holds no frames.
func (b *Buffer[T]) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fill <= 0
}

// AverageRate returns the running average write rate in frames per second.
func (b *Buffer[T]) AverageRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate.average() / float64(b.interleave)
}

// Clear resets the buffer to empty without releasing storage.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fill = 0
	b.start = 0
	b.end = 0
}

// Unwrap returns a copy of the buffered scalars in oldest-to-newest order
// without consuming them.
func (b *Buffer[T]) Unwrap() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, 0, b.fill)
	head, tail := b.filledChunks()
	out = append(out, head...)
	return append(out, tail...)
}

// Write appends data to the buffer. The returned bool reports whether
// old frames were dropped to make room. A full non-overwriting buffer
// rejects the whole write with ErrBufferFull, leaving contents unchanged.
func (b *Buffer[T]) Write(data []T) (bool, error) {
	if len(data)%b.interleave != 0 {
		return false, ErrFrameAlignment
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.allowOverwrite && len(data) > len(b.buf)-b.fill {
		return false, ErrBufferFull
	}
	written := 0
	overflowed := false
	for written < len(data) {
		missing := len(data) - written
		if b.fill >= len(b.buf) {
			overflowed = true
			// Drop the oldest contiguous run up to the physical end.
			b.advance(min(len(b.buf)-b.start, missing), 0)
		}
		chunk := b.freeChunk()
		n := min(len(chunk), missing)
		copy(chunk[:n], data[written:written+n])
		written += n
		b.advance(0, n)
	}
	b.rate.update(written)
	return overflowed, nil
}

// Read pops buffered scalars into dst and returns the number of whole
// frames copied. It never blocks; fewer frames than requested are
// returned when the buffer holds fewer.
func (b *Buffer[T]) Read(dst []T) (int, error) {
	if len(dst)%b.interleave != 0 {
		return 0, ErrFrameAlignment
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	want := min(len(dst), b.fill)
	read := 0
	for read < want {
		head, _ := b.filledChunks()
		n := min(len(head), want-read)
		copy(dst[read:read+n], head[:n])
		read += n
		b.advance(n, 0)
	}
	return read / b.interleave, nil
}

// freeChunk returns the next contiguous free region without wrapping.
// Callers must hold b.mu.
func (b *Buffer[T]) freeChunk() []T {
	if b.start > b.end || b.fill >= len(b.buf) {
		return b.buf[b.end:b.start]
	}
	return b.buf[b.end:]
}

// filledChunks returns the buffered data as at most two contiguous
// regions in logical order. Callers must hold b.mu.
func (b *Buffer[T]) filledChunks() ([]T, []T) {
	if b.fill <= 0 {
		return nil, nil
	}
	if b.start >= b.end {
		return b.buf[b.start:], b.buf[:b.end]
	}
	return b.buf[b.start:b.end], nil
}

// advance moves the cursors by the given scalar counts and updates the
// fill count. Callers must hold b.mu.
func (b *Buffer[T]) advance(start, end int) {
	b.fill += end - start
	b.start = (b.start + start) % len(b.buf)
	b.end = (b.end + end) % len(b.buf)
}
