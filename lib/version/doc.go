// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the rtt2udp binary.
//
// [GitCommit], [BuildTime], and [Version] are injected with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/rtt2udp/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/rtt2udp
//
// They default to "unknown" / "0.1.0-dev" in development builds.
package version
