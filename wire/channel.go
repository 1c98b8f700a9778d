// wire/channel.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Frequency is a radio frequency in whole kHz (118.300 MHz is stored as
// 118300). Representing it as an integer rather than a float64 avoids
// the drift that comes from float64 not representing decimals like 0.1
// exactly, which matters here because the frequency is embedded
// digit-for-digit into a channel's Id.
type Frequency int64

// ParseFrequencyMHz parses a frequency given in decimal MHz (e.g.
// "118.3" or "121.5") into a Frequency, preserving the fractional kHz
// digits exactly rather than round-tripping through float64.
func ParseFrequencyMHz(s string) (Frequency, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")

	wholeN, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wire: invalid frequency %q: %w", s, err)
	}

	fracN := int64(0)
	if hasFrac {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		fracN, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("wire: invalid frequency %q: %w", s, err)
		}
	}

	return Frequency(wholeN*1000 + fracN), nil
}

// MHz renders the frequency back to decimal MHz text, e.g. "118.300".
func (f Frequency) MHz() string {
	return fmt.Sprintf("%d.%03d", int64(f)/1000, int64(f)%1000)
}

// Id derives a channel's Id from a frequency: the frequency in
// kHz zero-padded to 8 digits, followed by all-zero groups. This keeps
// every client that tunes the same frequency computing the same Id
// without a directory lookup.
func (f Frequency) Id() Id {
	id, err := ParseId(fmt.Sprintf("%08d-0000-0000-0000-000000000000", int64(f)))
	if err != nil {
		// int64(f) formatted with %08d is exactly 8 ASCII digits, a
		// well-formed UUID hex group, for any frequency from 0 to
		// 99999999 kHz; only a frequency outside that range gets here.
		panic(err)
	}
	return id
}

// ChannelId is a convenience wrapper for ParseFrequencyMHz(s).Id().
func ChannelId(freqMHz string) (Id, error) {
	f, err := ParseFrequencyMHz(freqMHz)
	if err != nil {
		return Id{}, err
	}
	return f.Id(), nil
}
