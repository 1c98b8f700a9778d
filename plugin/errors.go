// plugin/errors.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package plugin

import "errors"

var (
	// ErrCircularDependency is returned by Registry.Resolve when a
	// round of constructors depends, directly or transitively, on a
	// type none of them produce and the previous rounds didn't either:
	// the registry can't tell a cycle from a simple missing dependency
	// by the time no round makes forward progress, so both surface this
	// error rather than hanging.
	ErrCircularDependency = errors.New("plugin: dependency graph did not resolve; circular or missing dependency")

	// ErrMissingDependency names a request for a type that was never
	// registered with Provide. Registry.Get reports that case with its
	// boolean result instead, and Resolve reports an unsatisfiable
	// dependency as ErrCircularDependency, so nothing in this package
	// returns it.
	ErrMissingDependency = errors.New("plugin: requested type was never registered")

	// ErrUnknownInstruction is returned by ParseInstruction when the
	// body doesn't match any recognized instruction grammar.
	ErrUnknownInstruction = errors.New("plugin: unrecognized instruction text")
)

var errorStringToError = map[string]error{
	ErrCircularDependency.Error():  ErrCircularDependency,
	ErrMissingDependency.Error():   ErrMissingDependency,
	ErrUnknownInstruction.Error(): ErrUnknownInstruction,
}

// TryDecodeError recovers a plugin sentinel error from its string form.
func TryDecodeError(s string) error {
	if err, ok := errorStringToError[s]; ok {
		return err
	}
	return errors.New(s)
}
