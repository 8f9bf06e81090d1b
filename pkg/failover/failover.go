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
failover package contains policies which take care of items whose delivery
failed. The retry policy persists them into the durable store and re-sends
them in the background until the send succeeds.
*/
package failover

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/failover/store"
	"github.com/logrange/logship/pkg/utils"
	errors2 "github.com/logrange/range/pkg/utils/errors"
	"github.com/pkg/errors"
)

type (
	// FailedItem is a record which could not be delivered. Sequence is
	// the store key sequence, it is chosen by the policy if empty. Key
	// is set for items read from the store.
	FailedItem struct {
		Target   string
		Payload  []byte
		Sequence string
		Key      uint64
	}

	// Sender re-sends failed items. Send must return nil only when the
	// far end confirmed the delivery of all the items.
	Sender interface {
		Send(ctx context.Context, items []FailedItem) error
	}

	// Policy handles failed items. Deliver never returns an error, the
	// policy is the last resort for the items passed to it.
	Policy interface {
		Deliver(items ...FailedItem)

		// Run starts background re-sending (if the policy does it) via s
		Run(ctx context.Context, s Sender)

		Stats() Stats
		Close() error
	}

	// Stats is a snapshot of the policy counters
	Stats struct {
		Type         string
		Persisted    uint64
		Lost         uint64
		Redelivered  uint64
		Sweeps       uint64
		FailedSweeps uint64
		Pending      int
	}

	noopPolicy struct {
		logger log4g.Logger
		lost   uint64
	}

	stderrPolicy struct {
		lock      sync.Mutex
		w         io.Writer
		persisted uint64
		lost      uint64
	}
)

// NewPolicy creates the policy by cfg. For TypeRetry the durable store
// is opened and replayed, an error is returned if it is not possible.
func NewPolicy(cfg *Config) (Policy, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config; %v", err)
	}

	switch cfg.Type {
	case TypeNoop:
		return NewNoopPolicy(), nil
	case TypeStdErr:
		return NewStdErrPolicy(os.Stderr), nil
	}

	st, err := store.NewStore(cfg.Store)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open failover store %s", cfg.Store.Location)
	}
	return NewRetryPolicy(cfg, st, NewSingleSelector(cfg.KeySequence))
}

//===================== noopPolicy =====================

// NewNoopPolicy returns the policy which drops the failed items
func NewNoopPolicy() Policy {
	return &noopPolicy{logger: log4g.GetLogger("failover.noop")}
}

func (np *noopPolicy) Deliver(items ...FailedItem) {
	atomic.AddUint64(&np.lost, uint64(len(items)))
	np.logger.Warn("Dropping ", len(items), " failed items")
}

func (np *noopPolicy) Run(ctx context.Context, s Sender) {}

func (np *noopPolicy) Stats() Stats {
	return Stats{Type: TypeNoop, Lost: atomic.LoadUint64(&np.lost)}
}

func (np *noopPolicy) Close() error {
	return nil
}

//===================== stderrPolicy =====================

// NewStdErrPolicy returns the policy which writes failed items to w, one
// item per line prefixed by its target
func NewStdErrPolicy(w io.Writer) Policy {
	return &stderrPolicy{w: w}
}

func (sp *stderrPolicy) Deliver(items ...FailedItem) {
	sp.lock.Lock()
	defer sp.lock.Unlock()
	for _, it := range items {
		if _, err := fmt.Fprintf(sp.w, "%s\t%s\n", it.Target, it.Payload); err != nil {
			sp.lost++
			continue
		}
		sp.persisted++
	}
}

func (sp *stderrPolicy) Run(ctx context.Context, s Sender) {}

func (sp *stderrPolicy) Stats() Stats {
	sp.lock.Lock()
	defer sp.lock.Unlock()
	return Stats{Type: TypeStdErr, Persisted: sp.persisted, Lost: sp.lost}
}

func (sp *stderrPolicy) Close() error {
	return nil
}

//===================== stats =====================

func (s Stats) String() string {
	return utils.ToJsonStr(s)
}

// isClosed returns whether err says the component is closed
func isClosed(err error) bool {
	return errors.Cause(err) == errors2.ClosedState
}
