// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package locator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/bureau-foundation/rtt2udp/devicelink"
)

// mapPatterns are the line shapes that carry a symbol address:
//
//	_SEGGER_RTT      0x20000668   Data   168  segger_rtt.o(.bss._SEGGER_RTT)
//	.bss._SEGGER_RTT 0x2000084c   0x14 ./Code/foc/FOC.o
type mapPatterns struct {
	armlink      *regexp.Regexp
	gnu          *regexp.Regexp
	gnuSplitName *regexp.Regexp
}

func compileMapPatterns(symbol string) mapPatterns {
	quoted := regexp.QuoteMeta(symbol)
	return mapPatterns{
		armlink: regexp.MustCompile(`(?:^|\s)` + quoted + `\s+0x([0-9a-fA-F]+)\s+\w+\s+\d+`),
		gnu:     regexp.MustCompile(`\.bss\.` + quoted + `\s+0x([0-9a-fA-F]+)\s+0x[0-9a-fA-F]+\s+`),
		// GNU ld moves the address to the next line when the section
		// name is too long for its column.
		gnuSplitName: regexp.MustCompile(`^\s*\.bss\.` + quoted + `\s*$`),
	}
}

// ExtractAddress scans a linker map and returns the address of symbol.
// The layouts are tried in priority order over the whole file: the first
// armlink line wins, and GNU ld lines are consulted only when no armlink
// line names the symbol. An empty symbol means DefaultSymbol. When no
// line matches the result is zero and ErrAddressExtraction; there is no
// fallback address.
func ExtractAddress(reader io.Reader, symbol string) (devicelink.Address, error) {
	if symbol == "" {
		symbol = DefaultSymbol
	}
	patterns := compileMapPatterns(symbol)

	lines, err := readMapLines(reader, patterns.gnuSplitName)
	if err != nil {
		return 0, fmt.Errorf("%w: reading map: %w", ErrAddressExtraction, err)
	}
	for _, layout := range []struct {
		pattern *regexp.Regexp
		suffix  string
	}{
		{patterns.armlink, ""},
		{patterns.gnu, " "},
	} {
		for _, line := range lines {
			match := layout.pattern.FindStringSubmatch(line + layout.suffix)
			if match == nil {
				continue
			}
			address, err := devicelink.ParseAddress("0x" + match[1])
			if err != nil {
				return 0, fmt.Errorf("%w: %s: %w", ErrAddressExtraction, symbol, err)
			}
			if address != 0 {
				return address, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: symbol %s not found", ErrAddressExtraction, symbol)
}

// readMapLines returns the lines of a map, joining a line that matches
// splitName with the line after it.
func readMapLines(reader io.Reader, splitName *regexp.Regexp) ([]string, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	var carried string
	for scanner.Scan() {
		line := scanner.Text()
		if carried != "" {
			line = carried + " " + line
			carried = ""
		}
		if splitName.MatchString(line) {
			carried = strings.TrimSpace(line)
			continue
		}
		lines = append(lines, line)
	}
	if carried != "" {
		lines = append(lines, carried)
	}
	return lines, scanner.Err()
}

// ExtractAddressFile is ExtractAddress on the file at path.
func ExtractAddressFile(path, symbol string) (devicelink.Address, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAddressExtraction, err)
	}
	defer file.Close()

	address, err := ExtractAddress(file, symbol)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return address, nil
}
