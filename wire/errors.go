// wire/errors.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package wire

import "errors"

// Sentinel errors that can cross the wire as a JSON string field (a
// TextMessage body, a plugin bridge "err" frame) and be recovered on
// the other side via TryDecodeError, rather than becoming an opaque
// "unknown error" string once they leave the process that produced
// them.
var (
	ErrSessionClosed     = errors.New("wire: session closed")
	ErrUnknownServer     = errors.New("wire: unknown server id")
	ErrUnknownEntity     = errors.New("wire: unknown entity id")
	ErrRejectedByServer  = errors.New("wire: message type not accepted from clients")
	ErrMalformedEnvelope = errors.New("wire: malformed message envelope")
	ErrDeltaIsDelete     = errors.New("wire: delta is a delete and cannot be applied to an entity")
)

var errorStringToError = map[string]error{
	ErrSessionClosed.Error():     ErrSessionClosed,
	ErrUnknownServer.Error():     ErrUnknownServer,
	ErrUnknownEntity.Error():     ErrUnknownEntity,
	ErrRejectedByServer.Error():  ErrRejectedByServer,
	ErrMalformedEnvelope.Error(): ErrMalformedEnvelope,
	ErrDeltaIsDelete.Error():     ErrDeltaIsDelete,
}

// TryDecodeError looks up s against the known sentinel errors and
// returns the typed error if it matches, so callers can use errors.Is
// against an error that was serialized to a string and sent over the
// wire. If s doesn't match a known sentinel, it returns an opaque error
// wrapping s verbatim.
func TryDecodeError(s string) error {
	if err, ok := errorStringToError[s]; ok {
		return err
	}
	return errors.New(s)
}
