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

package serializer

import (
	"bufio"
	"bytes"
	"context"
	"io"
)

type (
	// LineReader reads lines from a stream. A line longer than the reader
	// buffer is returned in several parts.
	LineReader struct {
		r   *bufio.Reader
		ctx context.Context
	}
)

// NewLineReader creates new LineReader with the buffer of bufSize
func NewLineReader(ctx context.Context, r io.Reader, bufSize int) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, bufSize), ctx: ctx}
}

// ReadLine returns the next line without the line end. The returned
// slice is valid till the next call. io.EOF is returned when the stream is
// over, io.ErrClosedPipe if the context is closed.
func (lr *LineReader) ReadLine() ([]byte, error) {
	if lr.ctx.Err() != nil {
		return nil, io.ErrClosedPipe
	}

	line, err := lr.r.ReadSlice('\n')
	if err == nil || err == bufio.ErrBufferFull {
		return bytes.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF && len(line) > 0 {
		return bytes.TrimRight(line, "\r\n"), nil
	}
	return nil, err
}
