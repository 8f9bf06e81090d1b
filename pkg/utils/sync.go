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

package utils

import (
	"context"
	"sync"
	"time"
)

// Wait blocks until either the ticker fires (returns true) or ctx is
// closed (returns false). Used as the loop condition of periodic jobs.
func Wait(ctx context.Context, ticker *time.Ticker) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
		return true
	}
}

// Sleep pauses the go-routine for t, returns false if ctx is closed earlier
func Sleep(ctx context.Context, t time.Duration) bool {
	if t <= 0 {
		return ctx.Err() == nil
	}
	tmr := time.NewTimer(t)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}

// WaitDone waits till done is closed, but not longer than t. Returns
// false if the timeout happens.
func WaitDone(done chan struct{}, t time.Duration) bool {
	tmr := time.NewTimer(t)
	defer tmr.Stop()
	select {
	case <-done:
		return true
	case <-tmr.C:
		return false
	}
}

// WaitWaitGroup waits for wg, but not longer than t. Returns false if the
// timeout happens.
func WaitWaitGroup(wg *sync.WaitGroup, t time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return WaitDone(done, t)
}
