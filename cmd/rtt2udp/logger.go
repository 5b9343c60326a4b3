// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger writes text to a terminal and JSON anywhere else.
func newLogger(debug bool) *slog.Logger {
	return newLoggerTo(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), debug)
}

func newLoggerTo(output io.Writer, terminal, debug bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if terminal {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler)
}
