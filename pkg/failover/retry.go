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

package failover

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cbackoff "github.com/cloudflare/backoff"
	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/backoff"
	"github.com/logrange/logship/pkg/failover/store"
	"github.com/logrange/logship/pkg/utils"
	errors2 "github.com/logrange/range/pkg/utils/errors"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

type (
	// retryPolicy persists failed items into the store and re-sends them
	// from a background go-routine. Items of one sequence are re-sent in
	// the order they were persisted, an item is removed from the store
	// only after Sender confirmed its delivery.
	retryPolicy struct {
		cfg    *Config
		store  store.Store
		sel    KeySequenceSelector
		logger log4g.Logger

		persisted    uint64
		lost         uint64
		redelivered  uint64
		sweeps       uint64
		failedSweeps uint64

		lock   sync.Mutex
		closed bool
		cancel context.CancelFunc
		done   chan struct{}
	}
)

// NewRetryPolicy creates the retry policy over the store st. The policy
// owns st and closes it in Close().
func NewRetryPolicy(cfg *Config, st store.Store, sel KeySequenceSelector) (Policy, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config; %v", err)
	}
	if st == nil || sel == nil {
		return nil, fmt.Errorf("store and selector must be provided")
	}

	rp := new(retryPolicy)
	rp.cfg = deepcopy.Copy(cfg).(*Config)
	rp.store = st
	rp.sel = sel
	rp.logger = log4g.GetLogger("failover.retry").WithId("[" + sel.Sequence() + "]").(log4g.Logger)

	pending := rp.pending()
	if pending > 0 {
		rp.logger.Info(pending, " items are waiting for re-sending")
	}
	return rp, nil
}

// Deliver persists the items. Items of one sequence are written with one
// store sync. If the store cannot take the items, they are lost and the
// error is logged.
func (rp *retryPolicy) Deliver(items ...FailedItem) {
	if len(items) == 0 {
		return
	}

	seqs := make([]string, 0, 1)
	groups := make(map[string][]store.Entry, 1)
	for _, it := range items {
		seq := it.Sequence
		if seq == "" {
			seq = rp.sel.Sequence()
		}
		ents, ok := groups[seq]
		if !ok {
			seqs = append(seqs, seq)
		}
		groups[seq] = append(ents, store.Entry{Target: it.Target, Payload: it.Payload})
	}

	for _, seq := range seqs {
		ents := groups[seq]
		if err := rp.store.PutAll(seq, ents); err != nil {
			atomic.AddUint64(&rp.lost, uint64(len(ents)))
			rp.logger.Error("Could not persist ", len(ents), " failed items into sequence \"", seq,
				"\", the items are LOST, err=", err)
			continue
		}
		atomic.AddUint64(&rp.persisted, uint64(len(ents)))
		rp.logger.Debug("Persisted ", len(ents), " failed items into sequence \"", seq, "\"")
	}
}

// Run starts the re-sending go-routine. It stops when ctx is closed or
// Close() is called.
func (rp *retryPolicy) Run(ctx context.Context, s Sender) {
	rp.lock.Lock()
	defer rp.lock.Unlock()
	if rp.closed || rp.done != nil {
		rp.logger.Warn("Run(): the policy is closed or already running")
		return
	}

	ctx, rp.cancel = context.WithCancel(ctx)
	rp.done = make(chan struct{})
	go rp.loop(ctx, s, rp.done)
}

func (rp *retryPolicy) Stats() Stats {
	return Stats{
		Type:         TypeRetry,
		Persisted:    atomic.LoadUint64(&rp.persisted),
		Lost:         atomic.LoadUint64(&rp.lost),
		Redelivered:  atomic.LoadUint64(&rp.redelivered),
		Sweeps:       atomic.LoadUint64(&rp.sweeps),
		FailedSweeps: atomic.LoadUint64(&rp.failedSweeps),
		Pending:      rp.pending(),
	}
}

// Close stops the re-sending go-routine and closes the store
func (rp *retryPolicy) Close() error {
	rp.lock.Lock()
	if rp.closed {
		rp.lock.Unlock()
		return errors2.ClosedState
	}
	rp.closed = true
	cancel, done := rp.cancel, rp.done
	rp.lock.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	rp.logger.Info("Closing, stats=", rp.Stats())
	return rp.store.Close()
}

func (rp *retryPolicy) String() string {
	return fmt.Sprintf("retryPolicy{seq=%s, store=%v}", rp.sel.Sequence(), rp.store)
}

func (rp *retryPolicy) loop(ctx context.Context, s Sender, done chan struct{}) {
	defer close(done)
	rp.logger.Info("Re-sending every ", rp.cfg.RetryDelay(), " by ", rp.cfg.RetryBatchSize, " items")

	bo := cbackoff.New(rp.cfg.MaxRetryDelay(), rp.cfg.RetryDelay())
	ticker := time.NewTicker(rp.cfg.RetryDelay())
	defer ticker.Stop()

	for utils.Wait(ctx, ticker) {
		if rp.sweep(ctx, s) {
			bo.Reset()
			continue
		}

		d := bo.Duration()
		rp.logger.Warn("Re-sending failed, ", rp.pending(), " items are pending, pausing for ", d)
		if !utils.Sleep(ctx, d) {
			break
		}
	}
	rp.logger.Info("Re-sending loop is over.")
}

// sweep re-sends all the sequences by RetryBatchSize items. It returns
// false if a send or the store failed.
func (rp *retryPolicy) sweep(ctx context.Context, s Sender) bool {
	for _, seq := range rp.store.Sequences() {
		for ctx.Err() == nil {
			ents, err := rp.store.Scan(seq, rp.cfg.RetryBatchSize)
			if err != nil {
				if !isClosed(err) {
					rp.logger.Error("Could not read sequence \"", seq, "\", err=", err)
				}
				return false
			}
			if len(ents) == 0 {
				break
			}

			atomic.AddUint64(&rp.sweeps, 1)
			items := make([]FailedItem, len(ents))
			keys := make([]uint64, len(ents))
			for i, e := range ents {
				items[i] = FailedItem{Target: e.Target, Payload: e.Payload, Sequence: seq, Key: e.Key}
				keys[i] = e.Key
			}

			if err := s.Send(ctx, items); err != nil {
				if errors.Cause(err) == backoff.ErrRejected {
					rp.logger.Debug("Re-sending is rejected by backoff, will try later")
					return true
				}
				if isClosed(err) {
					rp.logger.Debug("The sender is closed, will not re-send")
					return true
				}
				atomic.AddUint64(&rp.failedSweeps, 1)
				rp.logger.Warn("Could not re-send ", len(items), " items of sequence \"", seq, "\", err=", err)
				return false
			}

			n, err := rp.store.RemoveAll(seq, keys)
			if err != nil {
				rp.logger.Error("Could not remove ", len(keys), " re-sent items from sequence \"", seq,
					"\", they will be sent again, err=", err)
				return false
			}
			atomic.AddUint64(&rp.redelivered, uint64(n))
			rp.logger.Debug("Re-sent ", n, " items of sequence \"", seq, "\"")

			if len(ents) < rp.cfg.RetryBatchSize {
				break
			}
		}
	}
	return true
}

func (rp *retryPolicy) pending() int {
	res := 0
	for _, seq := range rp.store.Sequences() {
		res += rp.store.Size(seq)
	}
	return res
}
