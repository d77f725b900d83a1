// Package api
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: Apache-2.0
//
// Contracts shared by the transfer layer and its collaborators: the engine
// (transfers, multiplexer, socket/timer callback protocol, result codes,
// typed options), the reactor (descriptor watches and timers), and the
// borrowed-or-owned string List used for option values.
package api
