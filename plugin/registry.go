// plugin/registry.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package plugin

import (
	"reflect"

	"github.com/atctrainer/network/log"
	"github.com/atctrainer/network/util"

	"golang.org/x/sync/errgroup"
)

// Registry is a type-keyed dependency injection container: values are
// looked up by their reflect.Type, so a constructor declares what it
// needs by naming the Go types it requires rather than a string key.
type Registry struct {
	mu     util.LoggingMutex
	lg     *log.Logger
	values map[reflect.Type]any
}

func NewRegistry(lg *log.Logger) *Registry {
	return &Registry{lg: lg, values: make(map[reflect.Type]any)}
}

// Provide registers a concrete value under its own dynamic type, making
// it available to any Constructor whose Requires names that type.
func (r *Registry) Provide(value any) {
	r.provideAs(reflect.TypeOf(value), value)
}

// provideAs registers value under an explicit type rather than its
// dynamic type, needed when Produces names an interface a constructor's
// concrete return value merely implements.
func (r *Registry) provideAs(t reflect.Type, value any) {
	r.mu.Lock(r.lg)
	defer r.mu.Unlock(r.lg)
	r.values[t] = value
}

// Get returns the value registered for t, if any.
func (r *Registry) Get(t reflect.Type) (any, bool) {
	r.mu.Lock(r.lg)
	defer r.mu.Unlock(r.lg)
	v, ok := r.values[t]
	return v, ok
}

func (r *Registry) has(t reflect.Type) bool {
	_, ok := r.Get(t)
	return ok
}

// Constructor is one candidate producer in a plugin's dependency graph:
// Build runs once every type in Requires is available in the registry,
// and its result is registered under Produces for later rounds (and
// later constructors in the same round, on the next round) to consume.
type Constructor struct {
	Produces reflect.Type
	Requires []reflect.Type
	Build    func(r *Registry) (any, error)
}

// Resolve runs constructors in dependency rounds: every round, every
// constructor whose Requires are all already in the registry runs
// concurrently (via errgroup, one goroutine per eligible constructor
// with no limit on how many run at once), and its result is added to the
// registry before the next round starts. This repeats until every
// constructor has run or a round makes no progress, in which case the
// remaining constructors form a circular or unsatisfiable dependency
// and ErrCircularDependency is returned rather than hanging forever —
// the edge case spec.md §6 calls out for plugin construction.
func Resolve(r *Registry, constructors []Constructor) error {
	pending := append([]Constructor(nil), constructors...)

	for len(pending) > 0 {
		var eligible, deferred []Constructor
		for _, c := range pending {
			if r.satisfied(c.Requires) {
				eligible = append(eligible, c)
			} else {
				deferred = append(deferred, c)
			}
		}

		if len(eligible) == 0 {
			return ErrCircularDependency
		}

		var eg errgroup.Group
		for _, c := range eligible {
			c := c
			eg.Go(func() error {
				v, err := c.Build(r)
				if err != nil {
					return err
				}
				r.provideAs(c.Produces, v)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		pending = deferred
	}
	return nil
}

func (r *Registry) satisfied(requires []reflect.Type) bool {
	for _, t := range requires {
		if !r.has(t) {
			return false
		}
	}
	return true
}
