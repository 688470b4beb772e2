// Package broadcast replicates one producer's stream into independent
// per-consumer buffers.
//
// A Broadcaster owns the upstream producer and runs exactly one poll
// goroutine regardless of how many consumers are registered. Each poll
// cycle drains the producer once and copies the batch into every
// consumer's private ring buffer with overwriting allowed: a slow
// consumer loses its own oldest unread samples and never stalls the poll
// loop or other consumers.
//
// Components:
//   - Broadcaster: registry + poll worker + per-consumer reads
//   - ConsumerHandle: stream.Producer view bound to one consumer id
//
// Ordering: within one consumer's buffer samples are strictly
// chronological; different consumers see independently lossy views of the
// same underlying sequence.
//
// Example Usage:
//
//	b := broadcast.New(producer, broadcast.Options{})
//	id := uuid.New()
//	b.RegisterConsumer(id, nil)
//	b.Start()
//	data, _, err := b.Read(ctx, id, 100)
package broadcast
