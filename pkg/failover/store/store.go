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
store package contains the durable queue for records which could not be
delivered. Entries are grouped by key sequences. Every sequence is an
independent FIFO: Scan returns entries in the order they were put, and an
entry stays in the store until it is removed explicitly.
*/
package store

import (
	"fmt"
)

type (
	// Entry is a stored record. Key is assigned by the store when the
	// entry is put, keys grow monotonically within a sequence.
	Entry struct {
		Key     uint64
		Target  string
		Payload []byte
	}

	// Store is the durable sink. Put and PutAll return after the entries
	// are persisted.
	Store interface {
		// Put stores the entry into sequence seq and assigns e.Key
		Put(seq string, e *Entry) error

		// PutAll stores all entries atomically with one sync, keys are
		// assigned to the slice elements
		PutAll(seq string, ents []Entry) error

		// Scan returns up to limit oldest entries of the sequence
		Scan(seq string, limit int) ([]Entry, error)

		// Remove deletes the entry. It returns false if there is no such
		// entry (it was removed before)
		Remove(seq string, key uint64) (bool, error)

		// RemoveAll deletes the entries, returns number of really removed ones
		RemoveAll(seq string, keys []uint64) (int, error)

		// Size returns number of entries in the sequence
		Size(seq string) int

		// Sequences returns names of all known non-empty sequences
		Sequences() []string

		Close() error
	}
)

var (
	ErrCorrupted = fmt.Errorf("the store file is corrupted")
	ErrFull      = fmt.Errorf("the store sequence reached its maximum number of entries")
	ErrLocked    = fmt.Errorf("the store location is locked by another process")
)

// NewStore creates the store by the config provided. The file store is
// opened and fully replayed before the function returns.
func NewStore(cfg *Config) (Store, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config; %v", err)
	}

	if cfg.Type == TypeInMem {
		return NewInMemStore(cfg.MaxEntries), nil
	}
	return Open(cfg)
}
