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

package store

type (
	// queue is the in-memory index of one key sequence. order keeps keys
	// in the insertion order, removed keys are dropped from order lazily.
	queue struct {
		lastKey uint64
		live    map[uint64]Entry
		order   []uint64
	}
)

func newQueue() *queue {
	return &queue{live: make(map[uint64]Entry)}
}

// nextKey returns the key for a new entry
func (q *queue) nextKey() uint64 {
	q.lastKey++
	return q.lastKey
}

// add puts e to the tail. e.Key must be greater than any key added before
func (q *queue) add(e Entry) {
	if e.Key > q.lastKey {
		q.lastKey = e.Key
	}
	q.live[e.Key] = e
	q.order = append(q.order, e.Key)
}

// del removes the key and returns whether it was there
func (q *queue) del(key uint64) bool {
	if key > q.lastKey {
		q.lastKey = key
	}
	if _, ok := q.live[key]; !ok {
		return false
	}
	delete(q.live, key)
	q.shrink()
	return true
}

func (q *queue) scan(limit int) []Entry {
	if limit <= 0 || limit > len(q.live) {
		limit = len(q.live)
	}
	res := make([]Entry, 0, limit)
	for _, k := range q.order {
		if len(res) == limit {
			break
		}
		if e, ok := q.live[k]; ok {
			res = append(res, e)
		}
	}
	return res
}

func (q *queue) size() int {
	return len(q.live)
}

// shrink drops removed keys from the head of order, and rebuilds order
// completely when it contains too many removed keys
func (q *queue) shrink() {
	i := 0
	for i < len(q.order) {
		if _, ok := q.live[q.order[i]]; ok {
			break
		}
		i++
	}
	q.order = q.order[i:]

	if len(q.order) > 2*len(q.live)+64 {
		no := make([]uint64, 0, len(q.live))
		for _, k := range q.order {
			if _, ok := q.live[k]; ok {
				no = append(no, k)
			}
		}
		q.order = no
	}
}
