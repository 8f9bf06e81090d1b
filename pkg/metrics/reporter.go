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
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/delivery"
	"github.com/logrange/logship/pkg/utils"
)

type (
	// Reporter writes the stats of a Source to the log every interval
	Reporter struct {
		src      Source
		interval time.Duration
		logger   log4g.Logger
		last     delivery.Stats
	}
)

// NewReporter creates new Reporter
func NewReporter(src Source, interval time.Duration) *Reporter {
	return &Reporter{src: src, interval: interval, logger: log4g.GetLogger("metrics.Reporter")}
}

// Run reports the stats till ctx is closed. It blocks the caller.
func (r *Reporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for utils.Wait(ctx, ticker) {
		r.report()
	}
}

func (r *Reporter) report() {
	st := r.src.Stats()
	r.logger.Info(r.line(&st))
	r.last = st
}

// line describes the stats change since the previous report
func (r *Reporter) line(st *delivery.Stats) string {
	return "accepted=" + humanize.Comma(int64(st.ItemsAccepted-r.last.ItemsAccepted)) +
		" dropped=" + humanize.Comma(int64(st.ItemsDropped-r.last.ItemsDropped)) +
		" acked=" + humanize.Comma(int64(st.BatchesAcked-r.last.BatchesAcked)) +
		" failed=" + humanize.Comma(int64(st.BatchesFailed-r.last.BatchesFailed)) +
		" rejected=" + humanize.Comma(int64(st.BatchesRejected-r.last.BatchesRejected)) +
		" redelivered=" + humanize.Comma(int64(st.ItemsRedelivered-r.last.ItemsRedelivered)) +
		" inFlight=" + humanize.Comma(st.InFlight) +
		" inFlightBytes=" + humanize.Bytes(uint64(st.Backoff.InFlightBytes)) +
		" pool=" + humanize.Comma(int64(st.Pool.Borrowed)) + "/" + humanize.Comma(int64(st.Pool.Allocated)) +
		" failoverPending=" + humanize.Comma(int64(st.Failover.Pending))
}
