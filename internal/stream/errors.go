package stream

import (
	"errors"

	"github.com/streamlab-io/instream/internal/ring"
)

var (
	// ErrConfiguration is returned when a configuration request is
	// invalid or arrives while the stream is running.
	ErrConfiguration = errors.New("invalid stream configuration")

	// ErrNotRunning is returned by reads and availability queries while
	// the stream is stopped, including stops that happen mid-wait.
	ErrNotRunning = errors.New("stream is not running")

	// ErrSynchronization is returned when two streams cannot be merged,
	// e.g. an input with random sample timing.
	ErrSynchronization = errors.New("streams cannot be synchronized")

	// ErrBufferFull reports a write rejected by a full non-overwriting
	// buffer.
	ErrBufferFull = ring.ErrBufferFull

	// ErrTimeout reports a blocking read that outlived its context.
	ErrTimeout = ring.ErrTimeout
)
