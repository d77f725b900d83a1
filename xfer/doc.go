// File: xfer/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package xfer drives many concurrent transfers from a single event loop.
//
// A Unit is one reusable transfer: options, data callbacks and a done
// callback on top of an engine transfer. A Session owns an engine
// multiplexer and translates its socket and timer requests into reactor
// watches. Units are handed to a Session with Add; when a transfer finishes
// the Session takes the unit back and invokes its done callback, after which
// the unit may be reconfigured and added again.
//
// Everything in this package is single-threaded: create, use and close
// sessions and units on the goroutine that runs the reactor.
package xfer
