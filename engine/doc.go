// Package engine is a plain-HTTP implementation of api.Engine.
//
// Each transfer makes one HTTP/1.0 request per connection over a
// non-blocking socket. A Multi exposes the sockets it needs watched and the
// timeout it wants through the api socket and timer callbacks, so any
// reactor can drive it; Transfer.Perform drives a private Multi with poll(2).
// Host names are resolved synchronously through a TTL-bounded cache.
package engine
