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

import (
	"sort"
	"sync"

	"github.com/logrange/range/pkg/utils/bytes"
	errors2 "github.com/logrange/range/pkg/utils/errors"
)

type (
	inmemStore struct {
		maxEntries int

		lock   sync.Mutex
		seqs   map[string]*queue
		closed bool
	}
)

// NewInMemStore returns a Store which keeps everything in memory
func NewInMemStore(maxEntries int) Store {
	return &inmemStore{maxEntries: maxEntries, seqs: make(map[string]*queue)}
}

func (ims *inmemStore) Put(seq string, e *Entry) error {
	ents := []Entry{*e}
	if err := ims.PutAll(seq, ents); err != nil {
		return err
	}
	e.Key = ents[0].Key
	return nil
}

func (ims *inmemStore) PutAll(seq string, ents []Entry) error {
	ims.lock.Lock()
	defer ims.lock.Unlock()
	if ims.closed {
		return errors2.ClosedState
	}

	q := ims.seqs[seq]
	if q == nil {
		q = newQueue()
		ims.seqs[seq] = q
	}
	if ims.maxEntries > 0 && q.size()+len(ents) > ims.maxEntries {
		return ErrFull
	}

	for i := range ents {
		ents[i].Key = q.nextKey()
		e := ents[i]
		e.Payload = bytes.BytesCopy(e.Payload)
		q.add(e)
	}
	return nil
}

func (ims *inmemStore) Scan(seq string, limit int) ([]Entry, error) {
	ims.lock.Lock()
	defer ims.lock.Unlock()
	if ims.closed {
		return nil, errors2.ClosedState
	}

	if q := ims.seqs[seq]; q != nil {
		return q.scan(limit), nil
	}
	return nil, nil
}

func (ims *inmemStore) Remove(seq string, key uint64) (bool, error) {
	n, err := ims.RemoveAll(seq, []uint64{key})
	return n == 1, err
}

func (ims *inmemStore) RemoveAll(seq string, keys []uint64) (int, error) {
	ims.lock.Lock()
	defer ims.lock.Unlock()
	if ims.closed {
		return 0, errors2.ClosedState
	}

	q := ims.seqs[seq]
	if q == nil {
		return 0, nil
	}
	n := 0
	for _, k := range keys {
		if q.del(k) {
			n++
		}
	}
	return n, nil
}

func (ims *inmemStore) Size(seq string) int {
	ims.lock.Lock()
	defer ims.lock.Unlock()
	if q := ims.seqs[seq]; q != nil {
		return q.size()
	}
	return 0
}

func (ims *inmemStore) Sequences() []string {
	ims.lock.Lock()
	defer ims.lock.Unlock()
	res := make([]string, 0, len(ims.seqs))
	for s, q := range ims.seqs {
		if q.size() > 0 {
			res = append(res, s)
		}
	}
	sort.Strings(res)
	return res
}

func (ims *inmemStore) Close() error {
	ims.lock.Lock()
	defer ims.lock.Unlock()
	if ims.closed {
		return errors2.ClosedState
	}
	ims.closed = true
	return nil
}
