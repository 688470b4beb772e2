// Package remote exposes a stream producer over a WebSocket connection.
//
// The server side wraps any local stream.Producer and answers
// request/response frames; the client side implements stream.Producer
// itself, so a remote stream plugs into broadcasters and synchronizers
// the same way a local one does. Frames are JSON encoded with sonic.
package remote
