// hub/errors.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package hub

import "errors"

var (
	ErrServerNameRequired = errors.New("hub: server announce requires a non-empty name")
	ErrUnknownServer       = errors.New("hub: no server with that id")
	ErrClientAlreadyAttached = errors.New("hub: client session already attached to a server")
)

var errorStringToError = map[string]error{
	ErrServerNameRequired.Error():   ErrServerNameRequired,
	ErrUnknownServer.Error():        ErrUnknownServer,
	ErrClientAlreadyAttached.Error(): ErrClientAlreadyAttached,
}

// TryDecodeError recovers one of the hub's sentinel errors from its
// string form, the way a client reconstructs a typed error from a
// TextMessage body it received over the wire.
func TryDecodeError(s string) error {
	if err, ok := errorStringToError[s]; ok {
		return err
	}
	return errors.New(s)
}
