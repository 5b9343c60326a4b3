// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for rtt2udp.
//
// Configuration is loaded from a single file specified by either the
// RTT2UDP_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). Without either, the command runs on [Default]
// values plus its flags. There is no automatic file search.
//
// Fields hold the raw text a user writes: addresses accept hex or
// decimal, durations use Go duration syntax ("5ms", "1s"). Nothing is
// parsed at load time; [Config.Options] converts the whole file into
// typed bridge and backend options and reports every bad field at
// once. [Config.Validate] is Options without the result.
//
// [LoadLegacyJSON] imports the flat legacy config.json. The file may
// contain comments and trailing commas. It is read once and never
// written back.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded.
package config
