// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/rtt2udp/devicelink"
)

// legacyConfig mirrors the flat legacy config.json. Absent
// keys stay nil and leave the default in place.
type legacyConfig struct {
	TargetDevice     *string         `json:"target_device"`
	DebugInterface   *string         `json:"debug_interface"`
	DebugSpeed       json.RawMessage `json:"debug_speed"`
	ControlBlockAddr *uint64         `json:"rtt_ctrl_block_addr"`
	BufferIndex      *int            `json:"rtt_buffer_index"`
	SearchStart      *uint64         `json:"rtt_search_start"`
	SearchLength     *uint64         `json:"rtt_search_length"`
	SearchStep       *int            `json:"rtt_search_step"`
	PollingInterval  *float64        `json:"polling_interval"`
	UDPIP            *string         `json:"udp_ip"`
	UDPPort          *int            `json:"udp_port"`
	LocalPort        *int            `json:"local_port"`
	Debug            *bool           `json:"debug"`
	Mode             *string         `json:"rtt_mode"`
	MapFilePath      *string         `json:"map_file_path"`
}

// LoadLegacyJSON imports a legacy config.json over the
// defaults. A zero rtt_ctrl_block_addr selects search mode, any other
// value direct mode, and rtt_mode "map" selects derived mode.
func LoadLegacyJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseLegacyJSON(data)
}

func parseLegacyJSON(data []byte) (*Config, error) {
	var legacy legacyConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &legacy); err != nil {
		return nil, fmt.Errorf("parsing legacy config: %w", err)
	}

	cfg := Default()
	if legacy.TargetDevice != nil {
		cfg.Target.Device = *legacy.TargetDevice
	}
	if legacy.DebugInterface != nil {
		cfg.Target.Interface = *legacy.DebugInterface
	}
	if len(legacy.DebugSpeed) > 0 {
		speed, err := legacySpeed(legacy.DebugSpeed)
		if err != nil {
			return nil, err
		}
		cfg.Target.Speed = speed
	}

	if legacy.ControlBlockAddr != nil && *legacy.ControlBlockAddr > math.MaxUint32 {
		return nil, fmt.Errorf("legacy config: rtt_ctrl_block_addr 0x%X exceeds 32 bits", *legacy.ControlBlockAddr)
	}
	if legacy.ControlBlockAddr != nil && *legacy.ControlBlockAddr != 0 {
		cfg.RTT.Mode = "direct"
		cfg.RTT.Address = devicelink.Address(*legacy.ControlBlockAddr).String()
	}
	if legacy.Mode != nil && strings.EqualFold(*legacy.Mode, "map") {
		cfg.RTT.Mode = "derived"
	}
	if legacy.MapFilePath != nil {
		cfg.RTT.MapFile = *legacy.MapFilePath
	}
	if legacy.BufferIndex != nil {
		cfg.RTT.BufferIndex = *legacy.BufferIndex
	}
	if legacy.SearchStart != nil {
		cfg.RTT.Search.Start = "0x" + strconv.FormatUint(*legacy.SearchStart, 16)
	}
	if legacy.SearchLength != nil {
		cfg.RTT.Search.Length = "0x" + strconv.FormatUint(*legacy.SearchLength, 16)
	}
	if legacy.SearchStep != nil {
		cfg.RTT.Search.Step = *legacy.SearchStep
	}
	if legacy.PollingInterval != nil {
		seconds := *legacy.PollingInterval
		if seconds < 0 {
			return nil, fmt.Errorf("legacy config: polling_interval must not be negative, got %v", seconds)
		}
		cfg.Forward.PollingInterval = time.Duration(seconds * float64(time.Second)).String()
	}
	if legacy.UDPIP != nil {
		cfg.UDP.RemoteIP = *legacy.UDPIP
	}
	if legacy.UDPPort != nil {
		cfg.UDP.RemotePort = *legacy.UDPPort
	}
	if legacy.LocalPort != nil {
		cfg.UDP.LocalPort = *legacy.LocalPort
	}
	if legacy.Debug != nil {
		cfg.Log.Debug = *legacy.Debug
	}
	return cfg, nil
}

// legacySpeed accepts debug_speed as a keyword string, a numeric
// string, or a bare number of kHz.
func legacySpeed(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var kHz uint32
	if err := json.Unmarshal(raw, &kHz); err != nil {
		return "", fmt.Errorf("legacy config: debug_speed %s is neither a keyword nor a kHz value", raw)
	}
	return strconv.FormatUint(uint64(kHz), 10), nil
}
