// File: xfer/session_options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xfer

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-xfer/api"
)

// SetOption sets a multiplexer option on the session.
func (s *Session) SetOption(opt api.MultiOption, v api.Value) error {
	if s.running == stopped {
		return errStopped
	}
	if !opt.Class().Accepts(v.Kind()) {
		return fmt.Errorf("%w: multi option %d takes a %s value, got %s", ErrBadParam, int(opt), opt.Class(), v.Kind())
	}
	if err := s.multi.SetOption(opt, v); err != nil {
		var code api.MultiCode
		if errors.As(err, &code) && code == api.MultiUnknownOption {
			return fmt.Errorf("%w: %w", ErrBadParam, err)
		}
		return engineErr("set multi option", err)
	}
	return nil
}

func (s *Session) SetMaxTotalConnections(n int64) error {
	return s.SetOption(api.MultiOptMaxTotalConnections, api.Long(n))
}

func (s *Session) SetMaxHostConnections(n int64) error {
	return s.SetOption(api.MultiOptMaxHostConnections, api.Long(n))
}

// SetMaxConnects sizes the engine's connection cache.
func (s *Session) SetMaxConnects(n int64) error {
	return s.SetOption(api.MultiOptMaxConnects, api.Long(n))
}

func (s *Session) SetMaxConcurrentStreams(n int64) error {
	return s.SetOption(api.MultiOptMaxConcurrentStreams, api.Long(n))
}

func (s *Session) SetMaxPipelineLength(n int64) error {
	return s.SetOption(api.MultiOptMaxPipelineLength, api.Long(n))
}

// SetPipelining selects api.PipeNothing, api.PipeHTTP1 or api.PipeMultiplex.
func (s *Session) SetPipelining(mode int64) error {
	switch mode {
	case api.PipeNothing, api.PipeHTTP1, api.PipeMultiplex:
	default:
		return fmt.Errorf("%w: pipelining mode %d", ErrBadParam, mode)
	}
	return s.SetOption(api.MultiOptPipelining, api.Long(mode))
}
