// util/misc.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"fmt"
	"iter"
	"slices"

	"golang.org/x/exp/constraints"
)

// Select returns a if sel is true, else b, mirroring the teacher's
// single-expression ternary replacement used throughout its config and
// stats code.
func Select[T any](sel bool, a, b T) T {
	if sel {
		return a
	}
	return b
}

// MapSlice applies xform to each element of from, returning the results
// in order.
func MapSlice[F, T any](from []F, xform func(F) T) []T {
	to := make([]T, len(from))
	for i, f := range from {
		to[i] = xform(f)
	}
	return to
}

// SortedMap iterates m in ascending key order, for deterministic output
// in directory listings and stats dumps.
func SortedMap[K constraints.Ordered, V any](m map[K]V) iter.Seq2[K, V] {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return func(yield func(K, V) bool) {
		for _, k := range keys {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}

// ByteCount formats a byte count with a unit suffix. The hub's stats
// page does not use it; it reports memory in whole megabytes.
type ByteCount int64

func (b ByteCount) String() string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", int64(b))
	}
	div, exp := int64(unit), 0
	for n := int64(b) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
