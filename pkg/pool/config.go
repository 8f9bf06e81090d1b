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
	"strings"
	"time"

	"github.com/logrange/logship/pkg/utils"
)

type (
	// ResizeConfig describes how a pool grows when it runs out of idle
	// ItemSources.
	ResizeConfig struct {
		// Type is either ResizeBounded or ResizeUnlimited
		Type string

		// Factor defines the growth step as a share of currently allocated
		// ItemSources. At least one ItemSource is allocated per step.
		Factor float64

		// MaxSize is the maximum number of ItemSources a bounded pool may
		// allocate. Ignored by unlimited pools.
		MaxSize int
	}

	// Config struct contains the pool settings
	Config struct {
		// Name is used in logs and metrics
		Name string

		// InitialSize is the number of ItemSources allocated on start. The
		// pool never shrinks below it.
		InitialSize int

		// ItemSizeBytes is the initial capacity of every ItemSource buffer
		ItemSizeBytes int

		// MaxItemSizeBytes is the capacity above which a released buffer
		// is dropped and replaced by a standard sized one
		MaxItemSizeBytes int

		Resize *ResizeConfig

		// ResizeTimeoutMs is how long Borrow may wait for a released
		// ItemSource when the pool cannot grow. 0 means fail immediately.
		ResizeTimeoutMs int

		// MonitorIntervalSec enables periodic stats logging if > 0
		MonitorIntervalSec int
	}
)

const (
	ResizeBounded   = "bounded"
	ResizeUnlimited = "unlimited"
)

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{
		Name:             "items",
		InitialSize:      1000,
		ItemSizeBytes:    1024,
		MaxItemSizeBytes: 64 * 1024,
		Resize: &ResizeConfig{
			Type:   ResizeUnlimited,
			Factor: 0.5,
		},
		ResizeTimeoutMs: 1000,
	}
}

func (c *Config) ResizeTimeout() time.Duration {
	return time.Duration(c.ResizeTimeoutMs) * time.Millisecond
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}

func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if strings.TrimSpace(other.Name) != "" {
		c.Name = other.Name
	}
	if other.InitialSize != 0 {
		c.InitialSize = other.InitialSize
	}
	if other.ItemSizeBytes != 0 {
		c.ItemSizeBytes = other.ItemSizeBytes
	}
	if other.MaxItemSizeBytes != 0 {
		c.MaxItemSizeBytes = other.MaxItemSizeBytes
	}
	if other.Resize != nil {
		if c.Resize == nil {
			c.Resize = &ResizeConfig{}
		}
		c.Resize.Apply(other.Resize)
	}
	if other.ResizeTimeoutMs != 0 {
		c.ResizeTimeoutMs = other.ResizeTimeoutMs
	}
	if other.MonitorIntervalSec != 0 {
		c.MonitorIntervalSec = other.MonitorIntervalSec
	}
}

func (c *Config) Check() error {
	if c.InitialSize <= 0 {
		return fmt.Errorf("invalid InitialSize=%d, must be > 0", c.InitialSize)
	}
	if c.ItemSizeBytes <= 0 {
		return fmt.Errorf("invalid ItemSizeBytes=%d, must be > 0", c.ItemSizeBytes)
	}
	if c.MaxItemSizeBytes < c.ItemSizeBytes {
		return fmt.Errorf("invalid MaxItemSizeBytes=%d, must be >= ItemSizeBytes=%d",
			c.MaxItemSizeBytes, c.ItemSizeBytes)
	}
	if c.ResizeTimeoutMs < 0 {
		return fmt.Errorf("invalid ResizeTimeoutMs=%d, must be >= 0", c.ResizeTimeoutMs)
	}
	if c.MonitorIntervalSec < 0 {
		return fmt.Errorf("invalid MonitorIntervalSec=%d, must be >= 0", c.MonitorIntervalSec)
	}
	if c.Resize == nil {
		return fmt.Errorf("invalid Resize=nil, must be non-nil")
	}
	if err := c.Resize.Check(c.InitialSize); err != nil {
		return fmt.Errorf("invalid Resize=%v: %v", c.Resize, err)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}

//===================== resizeConfig =====================

func (rc *ResizeConfig) Apply(other *ResizeConfig) {
	if other == nil {
		return
	}
	if other.Type != "" {
		rc.Type = other.Type
	}
	if other.Factor != 0 {
		rc.Factor = other.Factor
	}
	if other.MaxSize != 0 {
		rc.MaxSize = other.MaxSize
	}
}

func (rc *ResizeConfig) Check(initSize int) error {
	if rc.Factor < 0 {
		return fmt.Errorf("invalid Factor=%v, must be >= 0", rc.Factor)
	}
	switch rc.Type {
	case ResizeBounded:
		if rc.MaxSize < initSize {
			return fmt.Errorf("invalid MaxSize=%d, must be >= InitialSize=%d", rc.MaxSize, initSize)
		}
	case ResizeUnlimited:
		if rc.Factor <= 0 {
			return fmt.Errorf("invalid Factor=%v, must be > 0 for %s policy", rc.Factor, rc.Type)
		}
	default:
		return fmt.Errorf("unknown Type=%v", rc.Type)
	}
	return nil
}

func (rc *ResizeConfig) String() string {
	return utils.ToJsonStr(rc)
}
