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

package failover

import (
	"fmt"
	"time"

	"github.com/logrange/logship/pkg/failover/store"
	"github.com/logrange/logship/pkg/utils"
)

type (
	// Config struct describes the failover policy
	Config struct {
		// Type is one of TypeRetry, TypeStdErr or TypeNoop
		Type string

		// KeySequence is the name of the store sequence the failed items
		// are written to
		KeySequence string

		// RetryBatchSize is the maximum number of items re-sent at once
		RetryBatchSize int

		// RetryDelayMs is the pause between two retry sweeps
		RetryDelayMs int

		// MaxRetryDelayMs caps the extra pause after failed sweeps
		MaxRetryDelayMs int

		// Store is the durable store config for TypeRetry
		Store *store.Config
	}
)

const (
	TypeRetry  = "retry"
	TypeStdErr = "stderr"
	TypeNoop   = "noop"

	DefaultKeySequence = "default"
)

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{
		Type:            TypeRetry,
		KeySequence:     DefaultKeySequence,
		RetryBatchSize:  100,
		RetryDelayMs:    5000,
		MaxRetryDelayMs: 60000,
		Store:           store.NewDefaultConfig(),
	}
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *Config) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}

func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.Type != "" {
		c.Type = other.Type
	}
	if other.KeySequence != "" {
		c.KeySequence = other.KeySequence
	}
	if other.RetryBatchSize != 0 {
		c.RetryBatchSize = other.RetryBatchSize
	}
	if other.RetryDelayMs != 0 {
		c.RetryDelayMs = other.RetryDelayMs
	}
	if other.MaxRetryDelayMs != 0 {
		c.MaxRetryDelayMs = other.MaxRetryDelayMs
	}
	if other.Store != nil {
		if c.Store == nil {
			c.Store = store.NewDefaultConfig()
		}
		c.Store.Apply(other.Store)
	}
}

func (c *Config) Check() error {
	switch c.Type {
	case TypeRetry:
	case TypeStdErr, TypeNoop:
		return nil
	default:
		return fmt.Errorf("invalid Type=%q, must be one of %s, %s, %s", c.Type, TypeRetry, TypeStdErr, TypeNoop)
	}

	if c.KeySequence == "" {
		return fmt.Errorf("invalid KeySequence=\"\", must be non-empty")
	}
	if c.RetryBatchSize <= 0 {
		return fmt.Errorf("invalid RetryBatchSize=%d, must be > 0", c.RetryBatchSize)
	}
	if c.RetryDelayMs <= 0 {
		return fmt.Errorf("invalid RetryDelayMs=%d, must be > 0", c.RetryDelayMs)
	}
	if c.MaxRetryDelayMs < c.RetryDelayMs {
		return fmt.Errorf("invalid MaxRetryDelayMs=%d, must be >= RetryDelayMs=%d", c.MaxRetryDelayMs, c.RetryDelayMs)
	}
	if c.Store == nil {
		return fmt.Errorf("Store must be provided for Type=%s", TypeRetry)
	}
	if err := c.Store.Check(); err != nil {
		return fmt.Errorf("invalid Store; %v", err)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}
