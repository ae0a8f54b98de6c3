// Copyright 2025 Google LLC
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

package kernel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var reg = prometheus.NewRegistry()

// defaultRegistry returns the registry internal/metrics' prometheusHandle
// registers against and cmd/rvkernel serves at /metrics.
func defaultRegistry() *prometheus.Registry { return reg }

// Registry exposes the same registry to cmd/rvkernel, which passes it to
// metrics.Serve.
func Registry() *prometheus.Registry { return reg }

// sleepMicros blocks the calling goroutine for the given number of
// microseconds. Split out from sleepFn so tests can observe it is the only
// wall-clock-touching line in the boot path.
func sleepMicros(micros int64) {
	time.Sleep(time.Duration(micros) * time.Microsecond)
}
