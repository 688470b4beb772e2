// Package ring provides fixed-capacity circular buffers for numeric
// sample streams.
//
// A Buffer stores scalars of any numeric type and optionally groups them
// into channel-interleaved frames. When full it either rejects new data or
// overwrites the oldest frames, depending on construction.
//
// Components:
//   - Buffer: thread-safe circular store with overwrite-or-reject policy
//   - Reader: blocking exact-count reads from one buffer
//   - SyncReader: lock-step blocking reads across parallel buffers
//
// Features:
//   - Single mutex guarding cursors and fill count
//   - Contiguous-chunk copy path (no wraparound stitching per chunk)
//   - Running average fill rate for poll scheduling
//   - Context-bounded, rate-limited retry loops in the readers
//
// Example Usage:
//
//	buf := ring.NewInterleaved[float64](2, 1024, true)
//	buf.Write(samples)
//	frames := buf.Read(dst)
package ring
