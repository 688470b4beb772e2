// Package stream defines the producer contract shared by every data
// source in the module.
//
// A Producer is one live instrument data stream: a set of named channels
// sampled with a common timing model, read as flat channel-interleaved
// float64 batches. Hardware bindings, the simulated producer, the fan-out
// broadcaster's consumer handles, the fan-in synchronizer and the remote
// client all expose this one surface.
//
// Sample timing categories:
//   - TimingConstant: fixed sample rate, timestamps can be synthesized
//   - TimingTimestamp: hardware supplies a float64 timestamp per sample
//   - TimingRandom: event-driven, no deterministic timing
//
// Blocking reads take a context; bound waits with context.WithTimeout.
package stream
