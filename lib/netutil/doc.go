// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds socket helpers shared by the UDP transport and
// the OpenOCD backend: classification of errors that occur during
// normal teardown or polling, and the listen configuration used for
// fixed-port UDP binds.
package netutil
