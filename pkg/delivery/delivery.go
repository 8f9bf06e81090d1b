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
delivery package contains Delivery, which glues the record pools, the batch
emitter, the backoff policy, the transport and the failover policy together.

A record is serialized into a pooled buffer and added to the emitter. Every
sealed batch is either admitted by the backoff policy and sent in its own
go-routine, or rejected and passed to the failover policy right away. A
batch which could not be sent is passed to the failover policy as well. The
pooled buffers are released when the batch is done in any case.
*/
package delivery

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/backoff"
	"github.com/logrange/logship/pkg/batch"
	"github.com/logrange/logship/pkg/failover"
	"github.com/logrange/logship/pkg/pool"
	"github.com/logrange/logship/pkg/transport"
	"github.com/logrange/logship/pkg/utils"
	errors2 "github.com/logrange/range/pkg/utils/errors"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

type (
	// Delivery accepts records and delivers them to the transport in
	// batches. It doesn't own the transport and the failover policy, the
	// caller closes them after the Delivery is closed.
	Delivery struct {
		cfg       *Config
		logger    log4g.Logger
		pool      *pool.Pool
		bodyPool  *pool.Pool
		emitter   *batch.Emitter
		backoff   backoff.Policy
		transport transport.Transport
		failover  failover.Policy

		closed int32

		// admLock makes the backoff check and Register atomic, and
		// orders wg.Add() calls before the wait in Close()
		admLock  sync.Mutex
		draining bool
		wg       sync.WaitGroup

		retryId uint64
		cnt     counters
	}

	counters struct {
		itemsAccepted    uint64
		itemsDropped     uint64
		batchesSealed    uint64
		batchesAcked     uint64
		batchesFailed    uint64
		batchesRejected  uint64
		itemsToFailover  uint64
		itemsRedelivered uint64
		inFlight         int64
		inFlightItems    int64
	}

	// Stats is a snapshot of the Delivery counters and of its components
	Stats struct {
		ItemsAccepted    uint64
		ItemsDropped     uint64
		BatchesSealed    uint64
		BatchesAcked     uint64
		BatchesFailed    uint64
		BatchesRejected  uint64
		// ItemsToFailover counts items handed to the failover policy, its
		// stats tell how many of them were persisted or lost
		ItemsToFailover  uint64
		ItemsRedelivered uint64
		InFlight         int64
		InFlightItems    int64
		Pool             pool.Stats
		BodyPool         pool.Stats
		Backoff          backoff.Stats
		Failover         failover.Stats
	}
)

// ids of batches built for re-sending start from here, so they don't
// intersect with the emitter ones in logs
const cRetryIdBase = uint64(1) << 62

// NewDelivery creates new Delivery which sends batches via tr and passes
// failed items to fp.
func NewDelivery(cfg *Config, tr transport.Transport, fp failover.Policy) (*Delivery, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config; %v", err)
	}
	if tr == nil || fp == nil {
		return nil, fmt.Errorf("transport and failover policy must be provided")
	}

	d := new(Delivery)
	d.cfg = deepcopy.Copy(cfg).(*Config)
	d.logger = log4g.GetLogger("delivery")
	d.transport = tr
	d.failover = fp
	d.retryId = cRetryIdBase

	var err error
	if d.backoff, err = backoff.NewPolicy(d.cfg.Backoff); err != nil {
		return nil, err
	}
	if d.pool, err = pool.NewPool(d.cfg.Pool, nil); err != nil {
		return nil, err
	}
	if d.bodyPool, err = pool.NewPool(d.cfg.BodyPool, nil); err != nil {
		d.pool.Close()
		return nil, err
	}
	if d.emitter, err = batch.NewEmitter(d.cfg.Emitter, d.onBatch); err != nil {
		d.pool.Close()
		d.bodyPool.Close()
		return nil, err
	}

	d.logger.Info("New delivery, config=", d.cfg, ", backoff=", d.backoff)
	return d, nil
}

// Run starts the flush timer and the failover re-sending. Both are
// stopped when ctx is closed.
func (d *Delivery) Run(ctx context.Context) {
	d.emitter.Run(ctx)
	d.failover.Run(ctx, d)
}

// Add copies payload into a pooled buffer and adds it to the current batch
func (d *Delivery) Add(target string, payload []byte) error {
	return d.AddFunc(target, func(w io.Writer) error {
		_, err := w.Write(payload)
		return err
	})
}

// AddFunc borrows a buffer and lets fn serialize the record into it. If
// there is no buffer available, the record is dropped and
// pool.ErrPoolExhausted is returned. The call never blocks longer than the
// pool resize timeout.
func (d *Delivery) AddFunc(target string, fn func(w io.Writer) error) error {
	if atomic.LoadInt32(&d.closed) != 0 {
		return errors2.ClosedState
	}

	is, err := d.pool.Borrow(context.Background())
	if err != nil {
		atomic.AddUint64(&d.cnt.itemsDropped, 1)
		d.logger.Warn("Dropping record for \"", target, "\", err=", err)
		return err
	}

	if err = fn(is); err != nil {
		is.Release()
		atomic.AddUint64(&d.cnt.itemsDropped, 1)
		return errors.Wrapf(err, "could not serialize record for %s", target)
	}

	if err = d.emitter.Add(batch.Item{Target: target, Source: is}); err != nil {
		is.Release()
		return err
	}
	atomic.AddUint64(&d.cnt.itemsAccepted, 1)
	return nil
}

// Send builds a batch from the items and sends it via the transport. It is
// used by the failover policy for re-sending. The batch passes the same
// backoff admission as the live ones, backoff.ErrRejected is returned if
// it is not admitted.
func (d *Delivery) Send(ctx context.Context, items []failover.FailedItem) error {
	bItems := make([]batch.Item, 0, len(items))
	for _, it := range items {
		is, err := d.pool.Borrow(ctx)
		if err == nil {
			_, err = is.Write(it.Payload)
		}
		if err != nil {
			batch.NewBatch(0, bItems).Release()
			return err
		}
		bItems = append(bItems, batch.Item{Target: it.Target, Source: is})
	}
	b := batch.NewBatch(atomic.AddUint64(&d.retryId, 1), bItems)

	if !d.admit(b) {
		d.release(b)
		return backoff.ErrRejected
	}
	defer d.done(b)

	if err := d.send(ctx, b); err != nil {
		atomic.AddUint64(&d.cnt.batchesFailed, 1)
		return err
	}
	atomic.AddUint64(&d.cnt.batchesAcked, 1)
	atomic.AddUint64(&d.cnt.itemsRedelivered, uint64(b.Len()))
	return nil
}

// Stats returns the Delivery counters
func (d *Delivery) Stats() Stats {
	return Stats{
		ItemsAccepted:    atomic.LoadUint64(&d.cnt.itemsAccepted),
		ItemsDropped:     atomic.LoadUint64(&d.cnt.itemsDropped),
		BatchesSealed:    atomic.LoadUint64(&d.cnt.batchesSealed),
		BatchesAcked:     atomic.LoadUint64(&d.cnt.batchesAcked),
		BatchesFailed:    atomic.LoadUint64(&d.cnt.batchesFailed),
		BatchesRejected:  atomic.LoadUint64(&d.cnt.batchesRejected),
		ItemsToFailover:  atomic.LoadUint64(&d.cnt.itemsToFailover),
		ItemsRedelivered: atomic.LoadUint64(&d.cnt.itemsRedelivered),
		InFlight:         atomic.LoadInt64(&d.cnt.inFlight),
		InFlightItems:    atomic.LoadInt64(&d.cnt.inFlightItems),
		Pool:             d.pool.Stats(),
		BodyPool:         d.bodyPool.Stats(),
		Backoff:          d.backoff.Stats(),
		Failover:         d.failover.Stats(),
	}
}

// Close stops accepting records, flushes the current batch and waits
// for the in-flight batches not longer than ShutdownDelayMs. The pools
// are closed then.
func (d *Delivery) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return errors2.ClosedState
	}
	d.logger.Info("Shutting down...")

	d.emitter.Close()

	d.admLock.Lock()
	d.draining = true
	d.admLock.Unlock()

	if !utils.WaitWaitGroup(&d.wg, d.cfg.ShutdownDelay()) {
		d.logger.Error("In-flight batches are not finished in ", d.cfg.ShutdownDelay(), ", ",
			atomic.LoadInt64(&d.cnt.inFlight), " batches with ", atomic.LoadInt64(&d.cnt.inFlightItems),
			" items are still in flight, the items are LOST if their delivery fails after the failover is closed")
	}

	d.logger.Info("Closed, stats=", d.Stats())
	d.pool.Close()
	d.bodyPool.Close()
	return nil
}

// onBatch is the emitter listener
func (d *Delivery) onBatch(b *batch.Batch) {
	atomic.AddUint64(&d.cnt.batchesSealed, 1)
	if !d.admit(b) {
		atomic.AddUint64(&d.cnt.batchesRejected, 1)
		d.logger.Warn("Batch ", b, " is rejected, passing it to failover")
		d.failOver(b)
		d.release(b)
		return
	}
	go d.dispatch(b)
}

// admit checks the backoff policy and registers b if it is admitted.
// Every admitted batch must be finished by done().
func (d *Delivery) admit(b *batch.Batch) bool {
	d.admLock.Lock()
	defer d.admLock.Unlock()
	if d.draining || d.backoff.ShouldApply(b) {
		return false
	}
	d.backoff.Register(b)
	d.wg.Add(1)
	atomic.AddInt64(&d.cnt.inFlight, 1)
	atomic.AddInt64(&d.cnt.inFlightItems, int64(b.Len()))
	return true
}

// done releases the batch and finishes its admission
func (d *Delivery) done(b *batch.Batch) {
	d.release(b)
	d.backoff.Deregister(b)
	atomic.AddInt64(&d.cnt.inFlight, -1)
	atomic.AddInt64(&d.cnt.inFlightItems, -int64(b.Len()))
	d.wg.Done()
}

func (d *Delivery) dispatch(b *batch.Batch) {
	defer d.done(b)

	if err := d.send(context.Background(), b); err != nil {
		atomic.AddUint64(&d.cnt.batchesFailed, 1)
		d.logger.Warn("Could not deliver batch ", b, ", passing it to failover, err=", err)
		d.failOver(b)
		return
	}
	atomic.AddUint64(&d.cnt.batchesAcked, 1)
	d.logger.Debug("Delivered batch ", b)
}

// send sends b via the transport. A transport panic is reported as an error.
func (d *Delivery) send(ctx context.Context, b *batch.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(transport.ErrTransport, "transport panic: %v", r)
		}
	}()

	body, err := d.bodyPool.Borrow(ctx)
	if err != nil {
		return errors.Wrapf(transport.ErrTransport, "no buffer for the request body; %v", err)
	}
	b.SetBody(body)
	return d.transport.Send(ctx, b)
}

// failOver passes the batch items to the failover policy. Must be called
// before the batch is released.
func (d *Delivery) failOver(b *batch.Batch) {
	items := make([]failover.FailedItem, 0, b.Len())
	for _, it := range b.Items() {
		items = append(items, failover.FailedItem{Target: it.Target, Payload: it.Source.Bytes()})
	}
	d.failover.Deliver(items...)
	atomic.AddUint64(&d.cnt.itemsToFailover, uint64(len(items)))
}

func (d *Delivery) release(b *batch.Batch) {
	if n := b.Release(); n > 0 {
		d.logger.Error("Batch ", b, " had ", n, " released buffers, the buffers are released twice.")
	}
}

//===================== stats =====================

func (s Stats) String() string {
	return utils.ToJsonStr(s)
}
