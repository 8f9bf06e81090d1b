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

package delivery

import (
	"fmt"
	"time"

	"github.com/logrange/logship/pkg/backoff"
	"github.com/logrange/logship/pkg/batch"
	"github.com/logrange/logship/pkg/pool"
	"github.com/logrange/logship/pkg/utils"
)

type (
	// Config struct contains settings of the Delivery components
	Config struct {
		// Pool is the pool of record buffers
		Pool *pool.Config

		// BodyPool is the pool of buffers the bulk requests are built in
		BodyPool *pool.Config

		Emitter *batch.Config
		Backoff *backoff.Config

		// ShutdownDelayMs limits how long Close waits for in-flight batches
		ShutdownDelayMs int
	}
)

//===================== config =====================

func NewDefaultConfig() *Config {
	bp := pool.NewDefaultConfig()
	bp.Name = "bodies"
	bp.InitialSize = 8
	bp.ItemSizeBytes = 256 * 1024
	bp.MaxItemSizeBytes = 4 * 1024 * 1024
	bp.Resize = &pool.ResizeConfig{Type: pool.ResizeBounded, Factor: 0.5, MaxSize: 64}

	return &Config{
		Pool:            pool.NewDefaultConfig(),
		BodyPool:        bp,
		Emitter:         batch.NewDefaultConfig(),
		Backoff:         backoff.NewDefaultConfig(),
		ShutdownDelayMs: 10000,
	}
}

func (c *Config) ShutdownDelay() time.Duration {
	return time.Duration(c.ShutdownDelayMs) * time.Millisecond
}

func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.Pool != nil {
		if c.Pool == nil {
			c.Pool = pool.NewDefaultConfig()
		}
		c.Pool.Apply(other.Pool)
	}
	if other.BodyPool != nil {
		if c.BodyPool == nil {
			c.BodyPool = pool.NewDefaultConfig()
		}
		c.BodyPool.Apply(other.BodyPool)
	}
	if other.Emitter != nil {
		if c.Emitter == nil {
			c.Emitter = batch.NewDefaultConfig()
		}
		c.Emitter.Apply(other.Emitter)
	}
	if other.Backoff != nil {
		if c.Backoff == nil {
			c.Backoff = backoff.NewDefaultConfig()
		}
		c.Backoff.Apply(other.Backoff)
	}
	if other.ShutdownDelayMs != 0 {
		c.ShutdownDelayMs = other.ShutdownDelayMs
	}
}

func (c *Config) Check() error {
	if c.Pool == nil || c.BodyPool == nil || c.Emitter == nil || c.Backoff == nil {
		return fmt.Errorf("Pool, BodyPool, Emitter and Backoff must be provided")
	}
	if err := c.Pool.Check(); err != nil {
		return fmt.Errorf("invalid Pool; %v", err)
	}
	if err := c.BodyPool.Check(); err != nil {
		return fmt.Errorf("invalid BodyPool; %v", err)
	}
	if err := c.Emitter.Check(); err != nil {
		return fmt.Errorf("invalid Emitter; %v", err)
	}
	if err := c.Backoff.Check(); err != nil {
		return fmt.Errorf("invalid Backoff; %v", err)
	}
	if c.ShutdownDelayMs <= 0 {
		return fmt.Errorf("invalid ShutdownDelayMs=%d, must be > 0", c.ShutdownDelayMs)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}
