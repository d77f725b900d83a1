// File: fake/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scripted transfer engine. Each URL maps to a Route describing what the
// transfer receives and how it ends; no network is touched.

package fake

import (
	"github.com/momentics/hioload-xfer/api"
)

// Route scripts the outcome of transfers to one URL.
type Route struct {
	Headers []string // response header lines, delivered before the body
	Chunks  [][]byte // body chunks, one per readable event
	Result  api.ResultCode

	// Immediate completes the transfer inside the first timeout action,
	// without ever asking for a socket.
	Immediate bool
}

// Engine is a fake api.Engine. It is not safe for concurrent use.
type Engine struct {
	routes map[string]Route

	// FailNewMulti and FailNewTransfer are returned by the constructors when set.
	FailNewMulti    error
	FailNewTransfer error

	// UnknownOptions are rejected with api.ResultUnknownOption.
	UnknownOptions map[api.Option]bool

	multis []*Multi
}

// NewEngine returns an engine with no routes.
func NewEngine() *Engine {
	return &Engine{
		routes:         make(map[string]Route),
		UnknownOptions: make(map[api.Option]bool),
	}
}

// Handle scripts transfers to url.
func (e *Engine) Handle(url string, r Route) { e.routes[url] = r }

func (e *Engine) NewTransfer() (api.Transfer, error) {
	if e.FailNewTransfer != nil {
		return nil, e.FailNewTransfer
	}
	return newTransfer(e), nil
}

func (e *Engine) NewMulti() (api.Multi, error) {
	if e.FailNewMulti != nil {
		return nil, e.FailNewMulti
	}
	m := newMulti(e)
	e.multis = append(e.multis, m)
	return m, nil
}

// LastMulti returns the most recently created multiplexer, or nil.
func (e *Engine) LastMulti() *Multi {
	if len(e.multis) == 0 {
		return nil
	}
	return e.multis[len(e.multis)-1]
}
