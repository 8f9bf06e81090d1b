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
	"fmt"

	"github.com/logrange/logship/pkg/pool"
)

type (
	// Item is a serialized record with the name of the target (index,
	// stream) it must be delivered to. The record bytes live in a pooled
	// ItemSource.
	Item struct {
		Target string
		Source pool.ItemSource
	}

	// Batch is an ordered group of items which is handed to exactly one
	// send attempt. The Emitter builds it, and the Batch is immutable
	// after it is sealed.
	Batch struct {
		id    uint64
		items []Item
		size  int
		body  pool.ItemSource
	}
)

// NewBatch makes a sealed batch from the items provided. It is used for
// re-sending items that don't go through an Emitter.
func NewBatch(id uint64, items []Item) *Batch {
	b := &Batch{id: id, items: items}
	for _, it := range items {
		b.size += it.Source.Len()
	}
	return b
}

// Id returns the batch sequence number
func (b *Batch) Id() uint64 {
	return b.id
}

// Items returns the batch items in the order they were added
func (b *Batch) Items() []Item {
	return b.items
}

// Len returns number of items in the batch
func (b *Batch) Len() int {
	return len(b.items)
}

// Size returns summarized payload size of the items
func (b *Batch) Size() int {
	return b.size
}

// SetBody attaches the buffer the batch wire form is serialized into.
// The batch owns the buffer and releases it in Release().
func (b *Batch) SetBody(body pool.ItemSource) {
	b.body = body
}

// Body returns the attached body buffer, if any
func (b *Batch) Body() (pool.ItemSource, bool) {
	return b.body, b.body.Valid()
}

// Release returns all pooled buffers of the batch to their pools. It
// returns the number of buffers which were already released, which must
// be 0 for correct code.
func (b *Batch) Release() int {
	stale := 0
	for _, it := range b.items {
		if it.Source.Release() != nil {
			stale++
		}
	}
	if b.body.Valid() {
		b.body.Release()
	}
	b.body = pool.ItemSource{}
	return stale
}

func (b *Batch) String() string {
	return fmt.Sprintf("{id=%d, items=%d, size=%d}", b.id, len(b.items), b.size)
}

func (b *Batch) add(it Item) {
	b.items = append(b.items, it)
	b.size += it.Source.Len()
}
