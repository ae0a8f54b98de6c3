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

package cfg

// Default returns the Config a fresh boot uses when no flag, env var or
// YAML key overrides a field.
func Default() Config {
	return Config{
		Program:       "shell.elf",
		NumThreads:    16,
		NumProcs:      8,
		CacheSlots:    64,
		QuantumMillis: 20,
		Log: LogConfig{
			Severity:   InfoLogSeverity,
			Format:     TextLogFormat,
			MaxSizeMb:  64,
			MaxBackups: 3,
		},
	}
}
