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
	"fmt"
	"hash/crc32"

	"github.com/logrange/range/pkg/utils/bytes"
	"github.com/logrange/range/pkg/utils/encoding/xbinary"
)

// The sequence file is a list of records. Every record is
//
//	| body len (4 bytes) | crc32 of body (4 bytes) | body |
//
// where the body is
//
//	| op (1 byte) | key (8 bytes) | target (string) | payload (bytes) |
//
// target and payload are present for opPut only.
const (
	opPut = byte(1)
	opDel = byte(2)

	recHeaderSize = 8
)

type (
	record struct {
		op byte
		e  Entry
	}
)

var (
	errTorn = fmt.Errorf("incomplete record")
	errCrc  = fmt.Errorf("record checksum mismatch")
)

// encodeRecord appends the record r to w
func encodeRecord(w *bytes.Writer, r record) {
	start := len(w.Buf())
	ow := xbinary.ObjectsWriter{Writer: w}
	ow.WriteUint64(0)
	ow.WriteByte(r.op)
	ow.WriteUint64(r.e.Key)
	if r.op == opPut {
		ow.WriteString(r.e.Target)
		ow.WriteBytes(r.e.Payload)
	}

	buf := w.Buf()[start:]
	body := buf[recHeaderSize:]
	xbinary.MarshalUint32(uint32(len(body)), buf[:4])
	xbinary.MarshalUint32(crc32.ChecksumIEEE(body), buf[4:recHeaderSize])
}

// decodeRecord reads the record from buf. It returns number of bytes
// consumed. errTorn is returned when buf ends before the record does, and
// errCrc when the record body doesn't match its checksum.
func decodeRecord(buf []byte) (record, int, error) {
	var r record
	if len(buf) < recHeaderSize {
		return r, 0, errTorn
	}

	_, ln, _ := xbinary.UnmarshalUint32(buf)
	_, crc, _ := xbinary.UnmarshalUint32(buf[4:])
	n := recHeaderSize + int(ln)
	if ln > uint32(len(buf)-recHeaderSize) {
		return r, 0, errTorn
	}

	body := buf[recHeaderSize:n]
	if crc32.ChecksumIEEE(body) != crc {
		return r, n, errCrc
	}
	if len(body) < 9 {
		return r, n, ErrCorrupted
	}

	r.op = body[0]
	_, r.e.Key, _ = xbinary.UnmarshalUint64(body[1:])
	switch r.op {
	case opDel:
		return r, n, nil
	case opPut:
		idx, tgt, err := xbinary.UnmarshalString(body[9:], true)
		if err != nil {
			return r, n, ErrCorrupted
		}
		_, pld, err := xbinary.UnmarshalBytes(body[9+idx:], true)
		if err != nil {
			return r, n, ErrCorrupted
		}
		r.e.Target = tgt
		r.e.Payload = pld
		return r, n, nil
	}
	return r, n, ErrCorrupted
}
