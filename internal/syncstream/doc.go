// Package syncstream merges two independently clocked producers into one
// time-aligned combined stream.
//
// The primary input supplies the time base. Each merge cycle pulls a
// batch from both inputs, synthesizes timestamps for inputs that report
// none (sampleCount / sampleRate), shifts the secondary base by an
// optional fixed delay, and linearly interpolates every secondary channel
// onto the primary's timestamp vector. Outside the secondary's covered
// span values are clamped to its first/last sample; slope extrapolation
// is never performed.
//
// When a configuration's requested channel set is satisfied entirely by
// one input the other is ignored: it is never started and the combined
// stream degenerates to a pass-through of the active input.
//
// Inputs with random sample timing cannot be merged and are rejected at
// construction.
//
// Example Usage:
//
//	s, err := syncstream.New(primary, secondary, syncstream.Options{})
//	s.Configure([]string{"counts", "wavelength"}, stream.ModeContinuous, 4096, 1000)
//	s.Start()
//	data, timestamps, err := s.Read(ctx, 100)
package syncstream
