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

package pool

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	errors2 "github.com/logrange/range/pkg/utils/errors"
	"github.com/stretchr/testify/assert"
)

func boundedCfg(size, max, timeoutMs int) *Config {
	cfg := NewDefaultConfig()
	cfg.Name = "test"
	cfg.InitialSize = size
	cfg.ItemSizeBytes = 16
	cfg.MaxItemSizeBytes = 64
	cfg.Resize = &ResizeConfig{Type: ResizeBounded, Factor: 0.5, MaxSize: max}
	cfg.ResizeTimeoutMs = timeoutMs
	return cfg
}

func checkInvariant(t *testing.T, p *Pool) {
	st := p.Stats()
	if st.Idle+st.Borrowed != st.Allocated {
		t.Fatal("idle + borrowed != allocated, stats=", st)
	}
}

func TestPoolBorrowRelease(t *testing.T) {
	p, err := NewPool(boundedCfg(2, 2, 0), nil)
	if err != nil {
		t.Fatal("must be no error, but err=", err)
	}
	defer p.Close()

	is, err := p.Borrow(context.Background())
	assert.Nil(t, err)
	checkInvariant(t, p)

	is.WriteString("hello")
	assert.Equal(t, "hello", string(is.Bytes()))
	assert.Equal(t, 1, p.Stats().Borrowed)

	assert.Nil(t, is.Release())
	checkInvariant(t, p)
	assert.Equal(t, 0, p.Stats().Borrowed)

	is2, err := p.Borrow(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, 0, is2.Len(), "released buffer must be reset")
	assert.Nil(t, p.Release(is2))
}

func TestPoolExhaustedBounded(t *testing.T) {
	p, _ := NewPool(boundedCfg(10, 10, 0), nil)
	defer p.Close()

	srcs := make([]ItemSource, 0, 10)
	for i := 0; i < 10; i++ {
		is, err := p.Borrow(context.Background())
		if err != nil {
			t.Fatal("i=", i, " must be no error, but err=", err)
		}
		srcs = append(srcs, is)
		checkInvariant(t, p)
	}

	start := time.Now()
	_, err := p.Borrow(context.Background())
	if err != ErrPoolExhausted {
		t.Fatal("expecting ErrPoolExhausted, but err=", err)
	}
	if time.Now().Sub(start) > 100*time.Millisecond {
		t.Fatal("must fail fast with zero timeout")
	}

	st := p.Stats()
	assert.Equal(t, 10, st.Allocated)
	assert.Equal(t, uint64(1), st.Exhausted)

	for _, is := range srcs {
		is.Release()
	}
	checkInvariant(t, p)
	assert.Equal(t, 10, p.Stats().Idle)
}

func TestPoolBoundedGrowth(t *testing.T) {
	p, _ := NewPool(boundedCfg(4, 7, 0), nil)
	defer p.Close()

	for i := 0; i < 7; i++ {
		if _, err := p.Borrow(context.Background()); err != nil {
			t.Fatal("i=", i, " must be no error, but err=", err)
		}
	}
	st := p.Stats()
	if st.Allocated != 7 || st.Resizes != 2 {
		t.Fatal("expecting growth 4->6->7, but stats=", st)
	}

	if _, err := p.Borrow(context.Background()); err != ErrPoolExhausted {
		t.Fatal("expecting ErrPoolExhausted, but err=", err)
	}
}

func TestPoolUnlimitedGrowth(t *testing.T) {
	cfg := boundedCfg(10, 10, 0)
	cfg.Resize = &ResizeConfig{Type: ResizeUnlimited, Factor: 0.5}
	p, _ := NewPool(cfg, nil)
	defer p.Close()

	for i := 0; i < 11; i++ {
		if _, err := p.Borrow(context.Background()); err != nil {
			t.Fatal("must be no error, but err=", err)
		}
	}
	st := p.Stats()
	assert.Equal(t, 15, st.Allocated, "must grow by 10*0.5 in one step")
	assert.Equal(t, uint64(1), st.Resizes)
	assert.Equal(t, 4, st.Idle)
	checkInvariant(t, p)
}

func TestPoolWaitsForRelease(t *testing.T) {
	p, _ := NewPool(boundedCfg(1, 1, 1000), nil)
	defer p.Close()

	is, _ := p.Borrow(context.Background())
	start := time.Now()
	go func() {
		time.Sleep(50 * time.Millisecond)
		is.Release()
	}()

	is2, err := p.Borrow(context.Background())
	if err != nil {
		t.Fatal("must be no error, but err=", err)
	}
	if time.Now().Sub(start) < 50*time.Millisecond {
		t.Fatal("It took less than expected. Should be blocked.")
	}
	is2.Release()
}

func TestPoolResizeTimeout(t *testing.T) {
	p, _ := NewPool(boundedCfg(1, 1, 50), nil)
	defer p.Close()

	p.Borrow(context.Background())
	start := time.Now()
	_, err := p.Borrow(context.Background())
	if err != ErrPoolExhausted {
		t.Fatal("expecting ErrPoolExhausted, but err=", err)
	}
	if time.Now().Sub(start) < 50*time.Millisecond {
		t.Fatal("must wait for the resize timeout")
	}
}

func TestPoolBorrowCtxCancelled(t *testing.T) {
	p, _ := NewPool(boundedCfg(1, 1, 10000), nil)
	defer p.Close()

	p.Borrow(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Borrow(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestPoolUseAfterRelease(t *testing.T) {
	p, _ := NewPool(boundedCfg(1, 1, 0), nil)
	defer p.Close()

	is, _ := p.Borrow(context.Background())
	is.WriteString("abc")
	assert.Nil(t, is.Release())

	assert.False(t, is.Valid())
	assert.Equal(t, ErrReleased, is.Release(), "double release must be detected")
	assert.Panics(t, func() { is.Bytes() })
	assert.Panics(t, func() { is.Write([]byte("x")) })

	// the same slot is handed out again, the stale handle must stay invalid
	is2, _ := p.Borrow(context.Background())
	assert.True(t, is2.Valid())
	assert.False(t, is.Valid())
	assert.Panics(t, func() { is.WriteString("y") })
	assert.Equal(t, ErrReleased, is.Release())
	assert.Equal(t, 1, p.Stats().Borrowed)
	checkInvariant(t, p)

	var zero ItemSource
	assert.Equal(t, ErrReleased, zero.Release())
	assert.Equal(t, ErrReleased, p.Release(zero))
}

func TestPoolDiscardsOversized(t *testing.T) {
	p, _ := NewPool(boundedCfg(1, 1, 0), nil)
	defer p.Close()

	is, _ := p.Borrow(context.Background())
	is.Write(make([]byte, 1000))
	is.Release()

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Discarded)
	assert.Equal(t, 1, st.Allocated)

	is, _ = p.Borrow(context.Background())
	if cap(is.s.w.Buf()) > 64 {
		t.Fatal("expecting standard buffer, but cap=", cap(is.s.w.Buf()))
	}
}

func TestPoolClose(t *testing.T) {
	p, _ := NewPool(boundedCfg(2, 2, 1000), nil)

	is, _ := p.Borrow(context.Background())
	assert.Nil(t, p.Close())
	assert.Equal(t, errors2.ClosedState, p.Close())

	_, err := p.Borrow(context.Background())
	assert.Equal(t, errors2.ClosedState, err)

	assert.Nil(t, is.Release())
	st := p.Stats()
	assert.Equal(t, 0, st.Allocated)
	assert.Equal(t, 0, st.Borrowed)
}

func TestPoolCloseWakesWaiters(t *testing.T) {
	p, _ := NewPool(boundedCfg(1, 1, 10000), nil)
	p.Borrow(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Close()
	}()
	_, err := p.Borrow(context.Background())
	assert.Equal(t, errors2.ClosedState, err)
}

func TestPoolConcurrentInvariant(t *testing.T) {
	p, _ := NewPool(boundedCfg(8, 16, 500), nil)
	defer p.Close()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				is, err := p.Borrow(context.Background())
				if err != nil {
					continue
				}
				is.Write(make([]byte, rnd.Intn(32)))
				is.Release()
			}
		}(int64(g))
	}
	wg.Wait()

	st := p.Stats()
	assert.Equal(t, 0, st.Borrowed)
	assert.True(t, st.Allocated <= 16)
	checkInvariant(t, p)
}

func TestNewPoolBadConfig(t *testing.T) {
	cfg := boundedCfg(0, 1, 0)
	if _, err := NewPool(cfg, nil); err == nil {
		t.Fatal("must be an error for InitialSize=0")
	}

	cfg = boundedCfg(10, 5, 0)
	if _, err := NewPool(cfg, nil); err == nil {
		t.Fatal("must be an error for MaxSize < InitialSize")
	}

	cfg = boundedCfg(1, 1, 0)
	cfg.Resize.Type = "fancy"
	if _, err := NewPool(cfg, nil); err == nil {
		t.Fatal("must be an error for unknown resize type")
	}
}
