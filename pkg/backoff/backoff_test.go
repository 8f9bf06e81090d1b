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

package backoff

import (
	"context"
	"sync"
	"testing"

	"github.com/logrange/logship/pkg/batch"
	"github.com/logrange/logship/pkg/pool"
	"github.com/stretchr/testify/assert"
)

func newBatch(t *testing.T, p *pool.Pool, payloads ...string) *batch.Batch {
	items := make([]batch.Item, 0, len(payloads))
	for _, s := range payloads {
		is, err := p.Borrow(context.Background())
		if err != nil {
			t.Fatal("could not borrow, err=", err)
		}
		is.WriteString(s)
		items = append(items, batch.Item{Target: "idx", Source: is})
	}
	return batch.NewBatch(1, items)
}

func newPool(t *testing.T) *pool.Pool {
	p, err := pool.NewPool(pool.NewDefaultConfig(), nil)
	if err != nil {
		t.Fatal("must be no error, but err=", err)
	}
	return p
}

func TestBatchLimitAdmission(t *testing.T) {
	p := newPool(t)
	defer p.Close()

	bp, err := NewPolicy(&Config{Type: TypeBatchLimit, MaxBatches: 1})
	if err != nil {
		t.Fatal("must be no error, but err=", err)
	}

	a := newBatch(t, p, "a")
	b := newBatch(t, p, "b")

	if bp.ShouldApply(a) {
		t.Fatal("the first batch must be admitted")
	}
	bp.Register(a)

	if !bp.ShouldApply(b) {
		t.Fatal("the second batch must be rejected while the first one is in flight")
	}
	// ShouldApply is a pure read
	assert.True(t, bp.ShouldApply(b))
	assert.Equal(t, int64(1), bp.Stats().InFlightBatches)

	bp.Deregister(a)
	assert.False(t, bp.ShouldApply(b))
	assert.Equal(t, int64(0), bp.Stats().InFlightBatches)
}

func TestBatchLimitIgnoresContent(t *testing.T) {
	p := newPool(t)
	defer p.Close()

	bp := NewBatchLimit(2)
	big := newBatch(t, p, string(make([]byte, 5000)))
	bp.Register(big)
	assert.False(t, bp.ShouldApply(nil))
	bp.Register(nil)
	assert.True(t, bp.ShouldApply(nil))
}

func TestBatchLimitNeverNegative(t *testing.T) {
	bp := NewBatchLimit(1)
	bp.Deregister(nil)
	st := bp.Stats()
	assert.Equal(t, int64(0), st.InFlightBatches)
	assert.Equal(t, int64(1), st.Underflows)

	bp.Register(nil)
	assert.True(t, bp.ShouldApply(nil), "an extra deregister must not open the gate")
}

func TestBatchLimitConcurrentPairing(t *testing.T) {
	bp := NewBatchLimit(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				bp.Register(nil)
				bp.Deregister(nil)
			}
		}()
	}
	wg.Wait()
	st := bp.Stats()
	assert.Equal(t, int64(0), st.InFlightBatches)
	assert.Equal(t, int64(0), st.Underflows)
}

func TestByteLimit(t *testing.T) {
	p := newPool(t)
	defer p.Close()

	bp, _ := NewPolicy(&Config{Type: TypeByteLimit, MaxBytes: 10})
	a := newBatch(t, p, "12345", "1234")
	b := newBatch(t, p, "1")

	assert.False(t, bp.ShouldApply(a))
	bp.Register(a)
	assert.False(t, bp.ShouldApply(b), "9 bytes in flight is below 10")
	bp.Register(b)
	assert.True(t, bp.ShouldApply(b))

	st := bp.Stats()
	assert.Equal(t, int64(2), st.InFlightBatches)
	assert.Equal(t, int64(10), st.InFlightBytes)

	bp.Deregister(a)
	assert.False(t, bp.ShouldApply(b))
	bp.Deregister(b)
	assert.Equal(t, int64(0), bp.Stats().InFlightBytes)

	bp.Deregister(b)
	assert.Equal(t, int64(1), bp.Stats().Underflows)
}

func TestNoop(t *testing.T) {
	bp, _ := NewPolicy(&Config{Type: TypeNoop})
	for i := 0; i < 100; i++ {
		bp.Register(nil)
	}
	assert.False(t, bp.ShouldApply(nil))
	assert.Equal(t, TypeNoop, bp.Stats().Type)
}

func TestConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Nil(t, cfg.Check())

	cfg.Apply(&Config{MaxBatches: 3})
	assert.Equal(t, TypeBatchLimit, cfg.Type)
	assert.Equal(t, 3, cfg.MaxBatches)

	if _, err := NewPolicy(&Config{Type: TypeBatchLimit, MaxBatches: 0}); err == nil {
		t.Fatal("must be an error for non-positive limit")
	}
	if _, err := NewPolicy(&Config{Type: TypeByteLimit}); err == nil {
		t.Fatal("must be an error for non-positive byte limit")
	}
	if _, err := NewPolicy(&Config{Type: "abc"}); err == nil {
		t.Fatal("must be an error for unknown type")
	}
}
