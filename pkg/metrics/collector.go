// Copyright 2018-2019 The logrange Authors
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

/*
metrics package exposes the delivery stats. Collector makes them available
for prometheus scraping, Reporter writes them to the log periodically.
*/
package metrics

import (
	"github.com/logrange/logship/pkg/delivery"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	// Source provides the stats snapshot
	Source interface {
		Stats() delivery.Stats
	}

	// Collector implements prometheus.Collector over a Source. The values
	// are taken from a fresh snapshot on every scrape.
	Collector struct {
		src Source
	}

	metric struct {
		desc *prometheus.Desc
		tp   prometheus.ValueType
		val  func(st *delivery.Stats) float64
	}
)

const cNamespace = "logship"

var metrics = []metric{
	counter("items_accepted_total", "Records accepted for delivery.",
		func(st *delivery.Stats) float64 { return float64(st.ItemsAccepted) }),
	counter("items_dropped_total", "Records dropped because no buffer could be borrowed.",
		func(st *delivery.Stats) float64 { return float64(st.ItemsDropped) }),
	counter("batches_sealed_total", "Batches sealed by the accumulator.",
		func(st *delivery.Stats) float64 { return float64(st.BatchesSealed) }),
	counter("batches_acked_total", "Batches delivered successfully.",
		func(st *delivery.Stats) float64 { return float64(st.BatchesAcked) }),
	counter("batches_failed_total", "Batches the transport failed to deliver.",
		func(st *delivery.Stats) float64 { return float64(st.BatchesFailed) }),
	counter("batches_rejected_total", "Batches rejected by the backoff policy.",
		func(st *delivery.Stats) float64 { return float64(st.BatchesRejected) }),
	counter("items_to_failover_total", "Records handed to the failover policy.",
		func(st *delivery.Stats) float64 { return float64(st.ItemsToFailover) }),
	counter("items_redelivered_total", "Records re-sent from the failover queue.",
		func(st *delivery.Stats) float64 { return float64(st.ItemsRedelivered) }),
	gauge("batches_in_flight", "Batches being sent right now.",
		func(st *delivery.Stats) float64 { return float64(st.InFlight) }),
	gauge("pool_allocated_items", "Buffers allocated by the record pool.",
		func(st *delivery.Stats) float64 { return float64(st.Pool.Allocated) }),
	gauge("pool_borrowed_items", "Buffers of the record pool in use.",
		func(st *delivery.Stats) float64 { return float64(st.Pool.Borrowed) }),
	counter("pool_exhausted_total", "Borrows from the record pool which failed.",
		func(st *delivery.Stats) float64 { return float64(st.Pool.Exhausted) }),
	gauge("body_pool_borrowed_items", "Buffers of the body pool in use.",
		func(st *delivery.Stats) float64 { return float64(st.BodyPool.Borrowed) }),
	gauge("backoff_in_flight_bytes", "Payload bytes registered by the backoff policy.",
		func(st *delivery.Stats) float64 { return float64(st.Backoff.InFlightBytes) }),
	counter("failover_lost_total", "Failed records the failover policy could not keep.",
		func(st *delivery.Stats) float64 { return float64(st.Failover.Lost) }),
	gauge("failover_pending_items", "Records waiting in the failover queue.",
		func(st *delivery.Stats) float64 { return float64(st.Failover.Pending) }),
}

func counter(name, help string, val func(st *delivery.Stats) float64) metric {
	return metric{desc: prometheus.NewDesc(prometheus.BuildFQName(cNamespace, "", name), help, nil, nil),
		tp: prometheus.CounterValue, val: val}
}

func gauge(name, help string, val func(st *delivery.Stats) float64) metric {
	return metric{desc: prometheus.NewDesc(prometheus.BuildFQName(cNamespace, "", name), help, nil, nil),
		tp: prometheus.GaugeValue, val: val}
}

// NewCollector returns the collector for src
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	for _, m := range metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.tp, m.val(&st))
	}
}
