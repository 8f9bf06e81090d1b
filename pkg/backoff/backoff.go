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
backoff package contains admission policies which limit the amount of work
being sent to the transport at the same time. A sealed batch is admitted
if ShouldApply() returns false for it. The admitted batch is Register()-ed
before the send and Deregister()-ed exactly once when the send is over.
*/
package backoff

import (
	"fmt"
	"sync/atomic"

	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/batch"
	"github.com/logrange/logship/pkg/utils"
)

type (
	// Policy is the admission gate. ShouldApply is a pure read of the
	// policy state, it returns true when a new batch must be rejected.
	Policy interface {
		ShouldApply(b *batch.Batch) bool
		Register(b *batch.Batch)
		Deregister(b *batch.Batch)
		Stats() Stats
	}

	// Stats is a snapshot of the policy counters
	Stats struct {
		Type            string
		InFlightBatches int64
		InFlightBytes   int64
		Underflows      int64
	}

	// batchLimit counts batches in flight and ignores their content
	batchLimit struct {
		max       int64
		inFlight  int64
		underflow int64
		logger    log4g.Logger
	}

	// byteLimit sums payload sizes of the batches in flight
	byteLimit struct {
		max       int64
		batches   int64
		bytes     int64
		underflow int64
		logger    log4g.Logger
	}

	noop struct{}
)

var (
	ErrRejected = fmt.Errorf("the batch is rejected by the backoff policy")
)

// NewPolicy creates new Policy by the config provided
func NewPolicy(cfg *Config) (Policy, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config; %v", err)
	}

	switch cfg.Type {
	case TypeBatchLimit:
		return NewBatchLimit(cfg.MaxBatches), nil
	case TypeByteLimit:
		return NewByteLimit(cfg.MaxBytes), nil
	}
	return NewNoop(), nil
}

// NewBatchLimit returns the policy which rejects batches when maxBatches
// are in flight
func NewBatchLimit(maxBatches int) Policy {
	return &batchLimit{max: int64(maxBatches), logger: log4g.GetLogger("backoff.batchLimit")}
}

// NewByteLimit returns the policy which rejects batches when the in-flight
// payload reaches maxBytes
func NewByteLimit(maxBytes int64) Policy {
	return &byteLimit{max: maxBytes, logger: log4g.GetLogger("backoff.byteLimit")}
}

// NewNoop returns the policy which never rejects
func NewNoop() Policy {
	return noop{}
}

//===================== batchLimit =====================

func (bl *batchLimit) ShouldApply(_ *batch.Batch) bool {
	return atomic.LoadInt64(&bl.inFlight) >= bl.max
}

func (bl *batchLimit) Register(_ *batch.Batch) {
	atomic.AddInt64(&bl.inFlight, 1)
}

func (bl *batchLimit) Deregister(_ *batch.Batch) {
	if !decrement(&bl.inFlight, 1) {
		atomic.AddInt64(&bl.underflow, 1)
		bl.logger.Error("Deregister() without Register(), the counter is kept at 0")
	}
}

func (bl *batchLimit) Stats() Stats {
	return Stats{
		Type:            TypeBatchLimit,
		InFlightBatches: atomic.LoadInt64(&bl.inFlight),
		Underflows:      atomic.LoadInt64(&bl.underflow),
	}
}

func (bl *batchLimit) String() string {
	return fmt.Sprintf("batchLimit{max=%d, inFlight=%d}", bl.max, atomic.LoadInt64(&bl.inFlight))
}

//===================== byteLimit =====================

func (bl *byteLimit) ShouldApply(_ *batch.Batch) bool {
	return atomic.LoadInt64(&bl.bytes) >= bl.max
}

func (bl *byteLimit) Register(b *batch.Batch) {
	atomic.AddInt64(&bl.batches, 1)
	atomic.AddInt64(&bl.bytes, int64(b.Size()))
}

func (bl *byteLimit) Deregister(b *batch.Batch) {
	ok := decrement(&bl.batches, 1)
	ok = decrement(&bl.bytes, int64(b.Size())) && ok
	if !ok {
		atomic.AddInt64(&bl.underflow, 1)
		bl.logger.Error("Deregister() of not registered batch=", b, ", the counters are kept non-negative")
	}
}

func (bl *byteLimit) Stats() Stats {
	return Stats{
		Type:            TypeByteLimit,
		InFlightBatches: atomic.LoadInt64(&bl.batches),
		InFlightBytes:   atomic.LoadInt64(&bl.bytes),
		Underflows:      atomic.LoadInt64(&bl.underflow),
	}
}

func (bl *byteLimit) String() string {
	return fmt.Sprintf("byteLimit{max=%d, inFlight=%d}", bl.max, atomic.LoadInt64(&bl.bytes))
}

//===================== noop =====================

func (noop) ShouldApply(_ *batch.Batch) bool { return false }
func (noop) Register(_ *batch.Batch)         {}
func (noop) Deregister(_ *batch.Batch)       {}
func (noop) Stats() Stats                    { return Stats{Type: TypeNoop} }
func (noop) String() string                  { return "noop{}" }

//===================== stats =====================

func (s Stats) String() string {
	return utils.ToJsonStr(s)
}

// decrement subtracts d from the counter, but never lets it go below 0.
// Returns false if the counter had less than d.
func decrement(cnt *int64, d int64) bool {
	for {
		v := atomic.LoadInt64(cnt)
		nv := v - d
		ok := nv >= 0
		if !ok {
			nv = 0
		}
		if atomic.CompareAndSwapInt64(cnt, v, nv) {
			return ok
		}
	}
}
