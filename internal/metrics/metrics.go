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

// Package metrics exports kernel introspection counters over Prometheus:
// gauges and counters for the scheduler's ready queue, the physical-page
// allocator, the block cache, and the open-file table.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handle is the metrics surface every kernel subsystem reports through. A
// noop Handle is always available so subsystems never need a nil check.
type Handle interface {
	SetFreePages(n int64)
	SetReadyQueueDepth(n int64)
	SetRunningThreads(n int64)
	CacheHit()
	CacheMiss()
	CacheEviction()
	SetOpenFiles(n int64)
}

type prometheusHandle struct {
	freePages       prometheus.Gauge
	readyQueueDepth prometheus.Gauge
	runningThreads  prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheEvictions  prometheus.Counter
	openFiles       prometheus.Gauge
}

// NewPrometheusHandle registers the kernel's gauges/counters against reg
// and returns a Handle that updates them.
func NewPrometheusHandle(reg prometheus.Registerer) Handle {
	h := &prometheusHandle{
		freePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rvkernel", Subsystem: "pgalloc", Name: "free_pages",
			Help: "Number of free physical pages.",
		}),
		readyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rvkernel", Subsystem: "sched", Name: "ready_queue_depth",
			Help: "Number of threads currently READY.",
		}),
		runningThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rvkernel", Subsystem: "sched", Name: "running_threads",
			Help: "Number of live (non-EXITED) threads.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rvkernel", Subsystem: "blockcache", Name: "hits_total",
			Help: "Block cache get_block calls served without a backing read.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rvkernel", Subsystem: "blockcache", Name: "misses_total",
			Help: "Block cache get_block calls that read from the backing device.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rvkernel", Subsystem: "blockcache", Name: "evictions_total",
			Help: "Block cache slot evictions.",
		}),
		openFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rvkernel", Subsystem: "ktfs", Name: "open_files",
			Help: "Number of currently open KTFS files.",
		}),
	}
	reg.MustRegister(h.freePages, h.readyQueueDepth, h.runningThreads, h.cacheHits, h.cacheMisses, h.cacheEvictions, h.openFiles)
	return h
}

func (h *prometheusHandle) SetFreePages(n int64)       { h.freePages.Set(float64(n)) }
func (h *prometheusHandle) SetReadyQueueDepth(n int64) { h.readyQueueDepth.Set(float64(n)) }
func (h *prometheusHandle) SetRunningThreads(n int64)  { h.runningThreads.Set(float64(n)) }
func (h *prometheusHandle) CacheHit()                  { h.cacheHits.Inc() }
func (h *prometheusHandle) CacheMiss()                 { h.cacheMisses.Inc() }
func (h *prometheusHandle) CacheEviction()             { h.cacheEvictions.Inc() }
func (h *prometheusHandle) SetOpenFiles(n int64)       { h.openFiles.Set(float64(n)) }

// noopHandle discards every observation; used when no metrics address is
// configured.
type noopHandle struct{}

// NewNoopHandle returns a Handle that discards every observation.
func NewNoopHandle() Handle { return noopHandle{} }

func (noopHandle) SetFreePages(int64)       {}
func (noopHandle) SetReadyQueueDepth(int64) {}
func (noopHandle) SetRunningThreads(int64)  {}
func (noopHandle) CacheHit()                {}
func (noopHandle) CacheMiss()               {}
func (noopHandle) CacheEviction()           {}
func (noopHandle) SetOpenFiles(int64)       {}

// Serve starts an HTTP server exposing /metrics on addr and blocks until it
// fails. cmd/rvkernel runs it in its own goroutine and only logs the
// returned error, so a bind failure does not stop boot.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
