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

package batch

import (
	"fmt"
	"time"

	"github.com/logrange/logship/pkg/utils"
)

type (
	// Config defines when the Emitter seals a batch
	Config struct {
		// MaxItems is the size trigger. The batch is sealed as soon as it
		// has MaxItems items.
		MaxItems int

		// FlushIntervalMs is the time trigger period
		FlushIntervalMs int
	}
)

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{
		MaxItems:        1000,
		FlushIntervalMs: 1000,
	}
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.MaxItems != 0 {
		c.MaxItems = other.MaxItems
	}
	if other.FlushIntervalMs != 0 {
		c.FlushIntervalMs = other.FlushIntervalMs
	}
}

func (c *Config) Check() error {
	if c.MaxItems <= 0 {
		return fmt.Errorf("invalid MaxItems=%d, must be > 0", c.MaxItems)
	}
	if c.FlushIntervalMs <= 0 {
		return fmt.Errorf("invalid FlushIntervalMs=%d, must be > 0", c.FlushIntervalMs)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}
