// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg holds the boot-time configuration for the rvkernel
// simulator: everything that would, on real hardware, be a bootloader
// argument or a kernel command-line option.
package cfg

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is decoded from flags, environment variables (RVKERNEL_ prefix)
// and an optional YAML file by Load.
type Config struct {
	// Disk is the path to the backing KTFS disk image (VirtIO block
	// device 0 in the boot protocol).
	Disk string `mapstructure:"disk"`

	// Program is the name of the distinguished user program exec'd at
	// boot (default "shell.elf").
	Program string `mapstructure:"program"`

	// NumThreads is validated at load (at least 2) but does not size the
	// thread table; the scheduler's table is the constant thread.NTHR.
	NumThreads int `mapstructure:"num-threads"`

	// NumProcs is NPROC, the fixed process-table size.
	NumProcs int `mapstructure:"num-procs"`

	// CacheSlots is validated at load (at least 1) but does not size the
	// block cache; the cache always has blockcache.NumSlots slots.
	CacheSlots int `mapstructure:"cache-slots"`

	// QuantumMillis is a preemption quantum in milliseconds. It is
	// validated at load; no timer reads it and threads are not preempted.
	QuantumMillis int `mapstructure:"quantum-millis"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Severity LogSeverity `mapstructure:"severity"`
	Format   LogFormat   `mapstructure:"format"`
	// FilePath, if non-empty, rotates log output through lumberjack
	// instead of writing to stderr.
	FilePath   string `mapstructure:"file-path"`
	MaxSizeMb  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
}

type MetricsConfig struct {
	// Addr, if non-empty, serves Prometheus metrics at this address
	// (e.g. ":9090"). Empty disables the metrics endpoint.
	Addr string `mapstructure:"addr"`
}

// Load decodes a Config from the bound viper instance, applying defaults
// for anything left unset and validating the result, so the CLI layer has
// a single call to check.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
