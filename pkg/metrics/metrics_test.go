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

package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/logrange/logship/pkg/delivery"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

type testSource struct {
	st delivery.Stats
}

func (ts *testSource) Stats() delivery.Stats {
	return ts.st
}

func TestCollector(t *testing.T) {
	src := &testSource{}
	src.st.ItemsAccepted = 42
	src.st.InFlight = 3
	src.st.Failover.Pending = 7

	c := NewCollector(src)
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatal("must be registered, but err=", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal("must be no error, but err=", err)
	}
	assert.Equal(t, len(metrics), len(mfs))

	vals := make(map[string]float64)
	for _, mf := range mfs {
		m := mf.GetMetric()[0]
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			vals[mf.GetName()] = m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			vals[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(42), vals["logship_items_accepted_total"])
	assert.Equal(t, float64(3), vals["logship_batches_in_flight"])
	assert.Equal(t, float64(7), vals["logship_failover_pending_items"])

	src.st.ItemsAccepted = 50
	mfs, _ = reg.Gather()
	for _, mf := range mfs {
		if mf.GetName() == "logship_items_accepted_total" {
			assert.Equal(t, float64(50), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestReporterLine(t *testing.T) {
	src := &testSource{}
	r := NewReporter(src, time.Second)

	src.st.ItemsAccepted = 1500
	r.report()
	src.st.ItemsAccepted = 2000
	st := src.Stats()
	l := r.line(&st)
	assert.True(t, strings.HasPrefix(l, "accepted=500 "), l)
}

func TestReporterOff(t *testing.T) {
	r := NewReporter(&testSource{}, 0)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return immediately for 0 interval")
	}
}

func TestConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Apply(&Config{ListenAddr: ":9100"})
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, time.Minute, cfg.ReportInterval())
	assert.Nil(t, cfg.Check())
	cfg.ReportIntervalMs = -1
	assert.NotNil(t, cfg.Check())
}
