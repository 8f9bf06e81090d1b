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
transport package contains the far end clients batches are sent to. Every
batch is written in the bulk form: a meta line with the item target
followed by the item payload line.
*/
package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/logrange/logship/pkg/batch"
	"github.com/logrange/logship/pkg/utils"
	"github.com/pkg/errors"
)

type (
	// Transport sends a batch synchronously. nil is returned only if the
	// far end accepted every item of the batch.
	Transport interface {
		Send(ctx context.Context, b *batch.Batch) error
		Close() error
	}

	// writerTransport writes bulk bodies to w
	writerTransport struct {
		lock sync.Mutex
		w    io.Writer
	}

	noopTransport struct {
		items uint64
	}
)

var (
	ErrTransport = fmt.Errorf("transport failure")
)

// NewTransport creates new Transport by cfg
func NewTransport(cfg *Config) (Transport, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config; %v", err)
	}

	switch cfg.Type {
	case TypeHttp:
		return newHttpTransport(cfg.Params)
	case TypeSyslog:
		return newSyslogTransport(cfg.Params)
	case TypeStdout:
		return NewWriterTransport(os.Stdout), nil
	}
	return &noopTransport{}, nil
}

// WriteBulk writes the batch items to w in the bulk form
func WriteBulk(w io.Writer, b *batch.Batch) error {
	for _, it := range b.Items() {
		if _, err := io.WriteString(w, "{\"index\":{\"_index\":"); err != nil {
			return err
		}
		if err := utils.WriteJsonStr(w, it.Target); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "}}\n"); err != nil {
			return err
		}
		if _, err := w.Write(it.Source.Bytes()); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

//===================== writerTransport =====================

// NewWriterTransport returns the transport which writes bulk bodies to w
func NewWriterTransport(w io.Writer) Transport {
	return &writerTransport{w: w}
}

func (wt *writerTransport) Send(ctx context.Context, b *batch.Batch) error {
	wt.lock.Lock()
	defer wt.lock.Unlock()
	if err := WriteBulk(wt.w, b); err != nil {
		return errors.Wrapf(ErrTransport, "could not write batch=%v; %v", b, err)
	}
	return nil
}

func (wt *writerTransport) Close() error {
	return nil
}

//===================== noopTransport =====================

func (nt *noopTransport) Send(ctx context.Context, b *batch.Batch) error {
	atomic.AddUint64(&nt.items, uint64(b.Len()))
	return nil
}

func (nt *noopTransport) Close() error {
	return nil
}
