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
	"testing"
	"time"
)

func TestWait(t *testing.T) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	if !Wait(context.Background(), ticker) {
		t.Fatal("must be true on tick")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := time.NewTicker(time.Hour)
	defer slow.Stop()
	if Wait(ctx, slow) {
		t.Fatal("must be false for closed context")
	}
}

func TestSleep(t *testing.T) {
	if !Sleep(context.Background(), time.Millisecond) {
		t.Fatal("must be true")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) || Sleep(ctx, 0) {
		t.Fatal("must be false for closed context")
	}
}

func TestWaitWaitGroup(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	if WaitWaitGroup(&wg, 10*time.Millisecond) {
		t.Fatal("must be false, the group is not done")
	}
	go wg.Done()
	if !WaitWaitGroup(&wg, time.Second) {
		t.Fatal("must be true, the group is done")
	}
}
