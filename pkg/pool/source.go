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
	"fmt"
	"sync/atomic"

	"github.com/logrange/range/pkg/utils/bytes"
)

type (
	// slot is the pooled object. gen is incremented on every release, so
	// handles issued before the release become stale.
	slot struct {
		w    bytes.Writer
		gen  uint32
		pool *Pool
	}

	// ItemSource is a handle over a pooled byte buffer. The handle is valid
	// from Borrow() till Release(). Any access to the buffer through a
	// released handle panics with ErrReleased.
	ItemSource struct {
		s   *slot
		gen uint32
	}
)

var (
	ErrReleased = fmt.Errorf("the ItemSource is released or was never borrowed")
)

// Write is a part of io.Writer
func (is ItemSource) Write(p []byte) (int, error) {
	is.check()
	return is.s.w.Write(p)
}

// WriteString appends s to the buffer
func (is ItemSource) WriteString(s string) (int, error) {
	is.check()
	is.s.w.WriteString(s)
	return len(s), nil
}

// WriteByte is a part of io.ByteWriter
func (is ItemSource) WriteByte(b byte) error {
	is.check()
	is.s.w.WriteByte(b)
	return nil
}

// Bytes returns the written data. The slice must not be used after
// the ItemSource is released.
func (is ItemSource) Bytes() []byte {
	is.check()
	return is.s.w.Buf()
}

// Len returns number of bytes written
func (is ItemSource) Len() int {
	return len(is.Bytes())
}

// Reset drops the written data, but keeps the ItemSource borrowed
func (is ItemSource) Reset() {
	is.check()
	is.s.w.Reset()
}

// Valid returns whether the handle can be used
func (is ItemSource) Valid() bool {
	return is.s != nil && atomic.LoadUint32(&is.s.gen) == is.gen
}

// Release returns the ItemSource to its pool. Second call returns ErrReleased.
func (is ItemSource) Release() error {
	if is.s == nil {
		return ErrReleased
	}
	return is.s.pool.release(is)
}

func (is ItemSource) String() string {
	if !is.Valid() {
		return "{released}"
	}
	return fmt.Sprintf("{len=%d}", len(is.s.w.Buf()))
}

func (is ItemSource) check() {
	if !is.Valid() {
		panic(ErrReleased)
	}
}
