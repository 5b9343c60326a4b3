// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package locator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/rtt2udp/devicelink"
)

// DefaultSymbol is the control block's linker symbol.
const DefaultSymbol = "_SEGGER_RTT"

// Mode is a control-block acquisition strategy.
type Mode uint8

const (
	ModeDirect Mode = iota + 1
	ModeSearch
	ModeDerived
)

// ParseMode accepts "direct", "search", and "derived" (or its alias
// "map").
func ParseMode(text string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "direct":
		return ModeDirect, nil
	case "search":
		return ModeSearch, nil
	case "derived", "map":
		return ModeDerived, nil
	}
	return 0, fmt.Errorf("locator: unknown acquisition mode %q (want direct, search, or derived)", text)
}

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeSearch:
		return "search"
	case ModeDerived:
		return "derived"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Spec says how to acquire the control block. Only the fields of the
// selected Mode are meaningful; use the Direct, Search, and Derived
// constructors.
type Spec struct {
	Mode Mode

	// Address is the literal address for ModeDirect. For ModeDerived
	// it is filled in by Locator.Derive.
	Address devicelink.Address

	// Range is the scanned window for ModeSearch.
	Range devicelink.SearchRange

	// MapFile is the linker map for ModeDerived.
	MapFile string
	// Symbol is the control block's symbol in MapFile. Empty means
	// DefaultSymbol.
	Symbol string
	// Rederive re-reads MapFile on every connect instead of reusing a
	// cached derived address.
	Rederive bool
}

// Direct returns a spec for a known address.
func Direct(address devicelink.Address) Spec {
	return Spec{Mode: ModeDirect, Address: address}
}

// Search returns a spec that scans searchRange.
func Search(searchRange devicelink.SearchRange) Spec {
	return Spec{Mode: ModeSearch, Range: searchRange}
}

// Derived returns a spec that reads the address from a linker map.
func Derived(mapFile string, rederive bool) Spec {
	return Spec{Mode: ModeDerived, MapFile: mapFile, Rederive: rederive}
}

// Validate checks the fields required by the selected mode.
func (s Spec) Validate() error {
	switch s.Mode {
	case ModeDirect:
		if s.Address == 0 {
			return errors.New("locator: direct mode requires a non-zero address")
		}
	case ModeSearch:
		return s.Range.Validate()
	case ModeDerived:
		if s.MapFile == "" {
			return errors.New("locator: derived mode requires a map file")
		}
	default:
		return fmt.Errorf("locator: invalid acquisition mode %s", s.Mode)
	}
	return nil
}

func (s Spec) symbol() string {
	if s.Symbol == "" {
		return DefaultSymbol
	}
	return s.Symbol
}

// Resolution is a found control block and the mode that found it.
type Resolution struct {
	Mode    Mode
	Address devicelink.Address
}

// IsZero reports whether r holds no address.
func (r Resolution) IsZero() bool { return r.Address == 0 }

// reusableFor reports whether a cached resolution may stand in for
// acquisition under mode.
func (r Resolution) reusableFor(mode Mode) bool {
	return !r.IsZero() && r.Mode == mode
}
