// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a 32-bit target memory address. Zero means "not
// resolved".
type Address uint32

// ParseAddress parses a hexadecimal ("0x20000668", "0X2000_0668") or
// decimal ("536872552") address. Signs, empty input, trailing garbage,
// and values above 32 bits are errors.
func ParseAddress(text string) (Address, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, fmt.Errorf("devicelink: empty address")
	}
	if trimmed[0] == '+' || trimmed[0] == '-' {
		return 0, fmt.Errorf("devicelink: address %q must not be signed", text)
	}

	base := 10
	digits := trimmed
	if len(trimmed) > 2 && (trimmed[:2] == "0x" || trimmed[:2] == "0X") {
		base = 16
		digits = trimmed[2:]
	}
	value, err := strconv.ParseUint(strings.ReplaceAll(digits, "_", ""), base, 32)
	if err != nil {
		return 0, fmt.Errorf("devicelink: invalid address %q: %w", text, err)
	}
	return Address(value), nil
}

// String formats the address as 0x-prefixed, zero-padded hex.
func (a Address) String() string {
	return fmt.Sprintf("0x%08X", uint32(a))
}

// Interface is the debug wire protocol between probe and target.
type Interface uint8

const (
	SWD Interface = iota
	JTAG
)

// ParseInterface accepts "swd" or "jtag" in any case.
func ParseInterface(text string) (Interface, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "swd":
		return SWD, nil
	case "jtag":
		return JTAG, nil
	default:
		return 0, fmt.Errorf("devicelink: unknown debug interface %q (want swd or jtag)", text)
	}
}

func (i Interface) String() string {
	switch i {
	case SWD:
		return "swd"
	case JTAG:
		return "jtag"
	default:
		return fmt.Sprintf("interface(%d)", uint8(i))
	}
}

// Speed is the debug clock: either a keyword (auto, adaptive) or a
// fixed frequency in kHz. The zero value is SpeedAuto.
type Speed struct {
	adaptive bool
	kHz      uint32
}

var (
	// SpeedAuto lets the probe choose its clock.
	SpeedAuto = Speed{}
	// SpeedAdaptive uses return-clock (RTCK) adaptive clocking.
	SpeedAdaptive = Speed{adaptive: true}
)

// SpeedKHz returns a fixed clock. kHz must be positive.
func SpeedKHz(kHz uint32) (Speed, error) {
	if kHz == 0 {
		return Speed{}, fmt.Errorf("devicelink: debug speed must be positive")
	}
	return Speed{kHz: kHz}, nil
}

// ParseSpeed accepts "auto", "adaptive", or a positive integer kHz.
func ParseSpeed(text string) (Speed, error) {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	switch trimmed {
	case "auto", "":
		return SpeedAuto, nil
	case "adaptive":
		return SpeedAdaptive, nil
	}
	value, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return Speed{}, fmt.Errorf("devicelink: invalid debug speed %q (want auto, adaptive, or kHz)", text)
	}
	return SpeedKHz(uint32(value))
}

// KHz returns the fixed frequency and true, or 0 and false for a
// keyword speed.
func (s Speed) KHz() (uint32, bool) {
	return s.kHz, s.kHz > 0
}

// IsAdaptive reports whether the speed is the adaptive keyword.
func (s Speed) IsAdaptive() bool { return s.adaptive }

func (s Speed) String() string {
	switch {
	case s.adaptive:
		return "adaptive"
	case s.kHz > 0:
		return strconv.FormatUint(uint64(s.kHz), 10)
	default:
		return "auto"
	}
}

// SearchRange is the window [Start, Start+Length) scanned for the
// control block, probing every Step bytes.
type SearchRange struct {
	Start  Address
	Length uint32
	Step   uint32
}

// End returns the first address past the window.
func (r SearchRange) End() uint64 {
	return uint64(r.Start) + uint64(r.Length)
}

// Validate rejects empty windows, zero steps, and windows that wrap
// past the 32-bit address space.
func (r SearchRange) Validate() error {
	if r.Length == 0 {
		return fmt.Errorf("devicelink: search length must be positive")
	}
	if r.Step == 0 {
		return fmt.Errorf("devicelink: search step must be positive")
	}
	if r.End() > 1<<32 {
		return fmt.Errorf("devicelink: search range %s+0x%X exceeds the 32-bit address space", r.Start, r.Length)
	}
	return nil
}

func (r SearchRange) String() string {
	return fmt.Sprintf("[%s, 0x%08X) step %d", r.Start, r.End(), r.Step)
}
