// sim/errors.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import "errors"

var (
	// ErrInboundRejected is returned when a message arriving on the
	// sim's inbound connection carries a discriminator only the
	// simulation's own tick loop is allowed to produce.
	ErrInboundRejected = errors.New("sim: message type not accepted from a client connection")

	// ErrUnknownController names a controller id that isn't in the
	// store. No Store operation returns it: recording activity for an
	// unknown id is silently ignored, and Kill treats an unknown id as
	// a no-op per the edge case in spec.md §6.
	ErrUnknownController = errors.New("sim: unknown controller id")
)

var errorStringToError = map[string]error{
	ErrInboundRejected.Error():    ErrInboundRejected,
	ErrUnknownController.Error(): ErrUnknownController,
}

// TryDecodeError recovers a sim sentinel error from its string form,
// for callers that received it embedded in a TextMessage body rather
// than as a Go error value directly.
func TryDecodeError(s string) error {
	if err, ok := errorStringToError[s]; ok {
		return err
	}
	return errors.New(s)
}
