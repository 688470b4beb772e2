// Package server provides HTTP server setup and initialization for the
// streaming daemon.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (CORS, rate limiting, recovery)
//   - Simulated acquisition producers
//   - Broadcaster fan-out and synchronizer fan-in wiring
//   - WebSocket endpoint exposing a stream to remote clients
//   - Prometheus metrics endpoint
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Create producers, broadcaster and synchronizer
//  4. Setup HTTP routes and middleware
//  5. Start HTTP server
//  6. Graceful shutdown on signal
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
