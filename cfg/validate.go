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

import "fmt"

// Validate rejects boot parameters that would violate an invariant a
// kernel subsystem assumes at construction time.
func Validate(c *Config) error {
	if c.NumThreads < 2 {
		return fmt.Errorf("num-threads must be at least 2 (boot thread + idle thread), got %d", c.NumThreads)
	}
	if c.NumProcs < 1 {
		return fmt.Errorf("num-procs must be at least 1 (main process), got %d", c.NumProcs)
	}
	if c.CacheSlots < 1 {
		return fmt.Errorf("cache-slots must be at least 1, got %d", c.CacheSlots)
	}
	if c.QuantumMillis < 1 {
		return fmt.Errorf("quantum-millis must be positive, got %d", c.QuantumMillis)
	}
	if c.Log.Severity.Rank() < 0 {
		return fmt.Errorf("invalid log severity %q", c.Log.Severity)
	}
	return nil
}
