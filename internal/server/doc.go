// Package server implements the HTTP side of the relay: configuration,
// origin checks, routing, the websocket upgrade endpoint, and process
// lifecycle.
//
// The relay semantics themselves live in package relay; this package only
// accepts connections and hands them to a relay.Hub.
package server
