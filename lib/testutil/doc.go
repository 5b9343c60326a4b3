// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never hang on a channel that is never signaled.
// [Eventually] polls a condition for tests that observe goroutines
// running on the real clock (the forwarding pipelines under load).
// These helpers are the only place in the test suite where wall-clock
// timeouts are used.
//
// All helpers call Fatalf on failure.
package testutil
