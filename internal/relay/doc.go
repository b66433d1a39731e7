// Package relay implements the real-time side of the chat application.
//
// A Hub owns the room registry and a single dispatch goroutine. Every inbound
// event (connect, setup, joinRoom, leaveRoom, newMsg, typing, typing stopped,
// disconnect) is handled to completion before the next one is dequeued, so
// room mutations never interleave. Persisted messages are fanned out to the
// identity rooms of the other conversation members; typing signals are scoped
// to conversation rooms.
package relay
