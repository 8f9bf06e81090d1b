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
pool package contains Pool, which manages a bounded set of reusable byte
buffers (ItemSources). Producers borrow an ItemSource, serialize a record
into it and hand it over to the batching code, which releases the
ItemSource back to the Pool when the record is delivered or persisted.
*/
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/utils"
	"github.com/logrange/range/pkg/utils/bytes"
	errors2 "github.com/logrange/range/pkg/utils/errors"
	"github.com/mohae/deepcopy"
)

type (
	// Pool struct manages ItemSources. It keeps idle ones in a stack and
	// counts borrowed ones, so idle + borrowed == allocated is always true
	// when the pool lock is not held. When no idle ItemSource is available
	// the ResizePolicy decides whether new ones could be allocated. If the
	// pool cannot grow, Borrow waits up to the resize timeout for a
	// released ItemSource and returns ErrPoolExhausted then.
	Pool struct {
		cfg    *Config
		policy ResizePolicy
		arena  *bytes.Pool
		logger log4g.Logger

		lock      sync.Mutex
		idle      []*slot
		allocated int
		borrowed  int
		closed    bool
		waiters   int
		waitCh    chan struct{}

		resizes   uint64
		exhausted uint64
		discarded uint64

		cchan chan struct{}
	}

	// Stats is a snapshot of the pool counters
	Stats struct {
		Name        string
		InitialSize int
		Allocated   int
		Idle        int
		Borrowed    int
		Resizes     uint64
		Exhausted   uint64
		Discarded   uint64
	}
)

var (
	ErrPoolExhausted = fmt.Errorf("the pool is exhausted, no ItemSource is available")
)

// NewPool creates new Pool and allocates cfg.InitialSize ItemSources. If
// policy is nil, it is built from cfg.Resize.
func NewPool(cfg *Config, policy ResizePolicy) (*Pool, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config; %v", err)
	}

	p := new(Pool)
	p.cfg = deepcopy.Copy(cfg).(*Config)
	if policy == nil {
		var err error
		if policy, err = NewResizePolicy(p.cfg.Resize); err != nil {
			return nil, err
		}
	}
	p.policy = policy
	p.arena = new(bytes.Pool)
	p.waitCh = make(chan struct{})
	p.cchan = make(chan struct{})
	p.logger = log4g.GetLogger("pool").WithId("[" + p.cfg.Name + "]").(log4g.Logger)

	p.idle = make([]*slot, 0, p.cfg.InitialSize)
	p.grow(p.cfg.InitialSize)
	p.logger.Info("New pool, config=", p.cfg, ", policy=", policy)

	if p.cfg.MonitorIntervalSec > 0 {
		go p.monitor(p.cfg.MonitorInterval())
	}
	return p, nil
}

// Borrow returns an empty ItemSource. It blocks the caller not longer than
// the configured resize timeout if the pool is exhausted and the resize
// policy doesn't allow it to grow; ErrPoolExhausted is returned then.
func (p *Pool) Borrow(ctx context.Context) (ItemSource, error) {
	var tmr *time.Timer
	defer func() {
		if tmr != nil {
			tmr.Stop()
		}
	}()

	for {
		p.lock.Lock()
		if p.closed {
			p.lock.Unlock()
			return ItemSource{}, errors2.ClosedState
		}

		if s := p.pop(); s != nil {
			p.borrowed++
			p.lock.Unlock()
			return ItemSource{s: s, gen: atomic.LoadUint32(&s.gen)}, nil
		}

		if n := p.policy.Increase(p.allocated); n > 0 {
			p.grow(n)
			p.resizes++
			p.logger.Debug("Resized by ", n, ", allocated=", p.allocated)
			p.lock.Unlock()
			continue
		}

		if p.cfg.ResizeTimeoutMs == 0 {
			p.exhausted++
			p.lock.Unlock()
			return ItemSource{}, ErrPoolExhausted
		}

		wc := p.waitCh
		p.waiters++
		p.lock.Unlock()

		if tmr == nil {
			tmr = time.NewTimer(p.cfg.ResizeTimeout())
		}

		select {
		case <-wc:
			p.lock.Lock()
			p.waiters--
			p.lock.Unlock()
		case <-tmr.C:
			p.lock.Lock()
			p.waiters--
			p.exhausted++
			p.lock.Unlock()
			return ItemSource{}, ErrPoolExhausted
		case <-ctx.Done():
			p.lock.Lock()
			p.waiters--
			p.lock.Unlock()
			return ItemSource{}, ctx.Err()
		}
	}
}

// Release returns is to the pool. It is the same as is.Release()
func (p *Pool) Release(is ItemSource) error {
	if is.s == nil || is.s.pool != p {
		return ErrReleased
	}
	return p.release(is)
}

// Stats returns the current pool counters. It doesn't change the pool state.
func (p *Pool) Stats() Stats {
	p.lock.Lock()
	defer p.lock.Unlock()
	return Stats{
		Name:        p.cfg.Name,
		InitialSize: p.cfg.InitialSize,
		Allocated:   p.allocated,
		Idle:        len(p.idle),
		Borrowed:    p.borrowed,
		Resizes:     p.resizes,
		Exhausted:   p.exhausted,
		Discarded:   p.discarded,
	}
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Close drops idle ItemSources and wakes up all waiters. Borrowed
// ItemSources can be released after the call, they are dropped then.
func (p *Pool) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return errors2.ClosedState
	}

	p.closed = true
	for _, s := range p.idle {
		s.w.Close()
	}
	p.allocated -= len(p.idle)
	p.idle = nil
	close(p.waitCh)
	close(p.cchan)
	p.logger.Info("Closed, borrowed=", p.borrowed)
	return nil
}

func (p *Pool) String() string {
	return fmt.Sprintf("{name=%s, stats=%v}", p.cfg.Name, p.Stats())
}

// grow must be called under the lock
func (p *Pool) grow(n int) {
	for i := 0; i < n; i++ {
		s := &slot{pool: p}
		s.w.Init(p.cfg.ItemSizeBytes, p.arena)
		p.idle = append(p.idle, s)
	}
	p.allocated += n
}

// pop must be called under the lock
func (p *Pool) pop() *slot {
	ln := len(p.idle)
	if ln == 0 {
		return nil
	}
	s := p.idle[ln-1]
	p.idle[ln-1] = nil
	p.idle = p.idle[:ln-1]
	return s
}

func (p *Pool) release(is ItemSource) error {
	s := is.s
	p.lock.Lock()
	defer p.lock.Unlock()

	if !atomic.CompareAndSwapUint32(&s.gen, is.gen, is.gen+1) {
		return ErrReleased
	}
	p.borrowed--

	if p.closed {
		s.w.Close()
		p.allocated--
		return nil
	}

	if cap(s.w.Buf()) > p.cfg.MaxItemSizeBytes {
		s.w.Close()
		s.w.Init(p.cfg.ItemSizeBytes, p.arena)
		p.discarded++
	} else {
		s.w.Reset()
	}
	p.idle = append(p.idle, s)

	if p.waiters > 0 {
		close(p.waitCh)
		p.waitCh = make(chan struct{})
	}
	return nil
}

func (p *Pool) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.cchan:
			return
		case <-ticker.C:
		}
		st := p.Stats()
		p.logger.Info("Stats: ", st, ", allocated memory ~",
			humanize.Bytes(uint64(st.Allocated)*uint64(p.cfg.ItemSizeBytes)))
	}
}

//===================== stats =====================

func (s Stats) String() string {
	return utils.ToJsonStr(s)
}
