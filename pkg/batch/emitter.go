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

package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/utils"
	errors2 "github.com/logrange/range/pkg/utils/errors"
	"github.com/mohae/deepcopy"
)

type (
	// Listener receives sealed batches. It is never called while the
	// Emitter lock is held, so it may block on network I/O.
	Listener func(b *Batch)

	// Emitter collects items into the current batch and seals it when
	// either MaxItems is reached (in the adding go-routine) or the flush
	// timer fires (in the timer go-routine). Sealing swaps the current
	// batch under the lock and notifies the listener after the lock is
	// released.
	Emitter struct {
		cfg      *Config
		listener Listener
		logger   log4g.Logger

		lock   sync.Mutex
		cur    *Batch
		closed bool
		lastId uint64

		sealed uint64

		cancel context.CancelFunc
		done   chan struct{}
	}
)

// NewEmitter creates new Emitter which will pass sealed batches to l
func NewEmitter(cfg *Config, l Listener) (*Emitter, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config; %v", err)
	}
	if l == nil {
		return nil, fmt.Errorf("listener must be non-nil")
	}

	e := new(Emitter)
	e.cfg = deepcopy.Copy(cfg).(*Config)
	e.listener = l
	e.logger = log4g.GetLogger("batch.Emitter")
	e.cur = e.newBatch()
	return e, nil
}

// Run starts the flush timer. The timer is stopped when ctx is closed or
// Close() is called.
func (e *Emitter) Run(ctx context.Context) {
	e.lock.Lock()
	if e.closed || e.done != nil {
		e.lock.Unlock()
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	e.lock.Unlock()

	e.logger.Info("Running flush timer every ", e.cfg.FlushInterval())
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.FlushInterval())
		defer ticker.Stop()
		for utils.Wait(ctx, ticker) {
			e.Flush()
		}
		e.logger.Info("Flush timer stopped.")
	}()
}

// Add appends it to the current batch. If the batch reaches MaxItems, it
// is sealed and handed to the listener in the caller's go-routine.
func (e *Emitter) Add(it Item) error {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return errors2.ClosedState
	}
	e.cur.add(it)
	var sb *Batch
	if e.cur.Len() >= e.cfg.MaxItems {
		sb = e.swap()
	}
	e.lock.Unlock()

	if sb != nil {
		e.notify(sb)
	}
	return nil
}

// Flush seals the current batch if it is not empty. Returns whether a
// batch was sealed.
func (e *Emitter) Flush() bool {
	e.lock.Lock()
	if e.cur.Len() == 0 {
		e.lock.Unlock()
		return false
	}
	sb := e.swap()
	e.lock.Unlock()

	e.notify(sb)
	return true
}

// Pending returns number of items in the current (not sealed) batch
func (e *Emitter) Pending() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.cur.Len()
}

// Sealed returns number of batches sealed so far
func (e *Emitter) Sealed() uint64 {
	return atomic.LoadUint64(&e.sealed)
}

// Close stops the timer, rejects new items and flushes the pending ones
func (e *Emitter) Close() error {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return errors2.ClosedState
	}
	e.closed = true
	cancel, done := e.cancel, e.done
	e.lock.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	e.Flush()
	e.logger.Info("Closed, sealed ", e.Sealed(), " batches in total.")
	return nil
}

// swap must be called under the lock
func (e *Emitter) swap() *Batch {
	sb := e.cur
	e.cur = e.newBatch()
	return sb
}

func (e *Emitter) newBatch() *Batch {
	e.lastId++
	return &Batch{id: e.lastId, items: make([]Item, 0, e.cfg.MaxItems)}
}

func (e *Emitter) notify(b *Batch) {
	atomic.AddUint64(&e.sealed, 1)
	e.logger.Debug("Sealed batch=", b)
	e.listener(b)
}
