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

package backoff

import (
	"fmt"

	"github.com/logrange/logship/pkg/utils"
)

type (
	// Config struct selects and configures the admission policy
	Config struct {
		// Type is one of TypeBatchLimit, TypeByteLimit or TypeNoop
		Type string

		// MaxBatches is the in-flight batches ceiling for TypeBatchLimit
		MaxBatches int

		// MaxBytes is the in-flight payload ceiling for TypeByteLimit
		MaxBytes int64
	}
)

const (
	TypeBatchLimit = "batchlimit"
	TypeByteLimit  = "bytelimit"
	TypeNoop       = "noop"
)

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{
		Type:       TypeBatchLimit,
		MaxBatches: 8,
		MaxBytes:   16 * 1024 * 1024,
	}
}

func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.Type != "" {
		c.Type = other.Type
	}
	if other.MaxBatches != 0 {
		c.MaxBatches = other.MaxBatches
	}
	if other.MaxBytes != 0 {
		c.MaxBytes = other.MaxBytes
	}
}

func (c *Config) Check() error {
	switch c.Type {
	case TypeBatchLimit:
		if c.MaxBatches <= 0 {
			return fmt.Errorf("invalid MaxBatches=%d, must be > 0", c.MaxBatches)
		}
	case TypeByteLimit:
		if c.MaxBytes <= 0 {
			return fmt.Errorf("invalid MaxBytes=%d, must be > 0", c.MaxBytes)
		}
	case TypeNoop:
	default:
		return fmt.Errorf("invalid Type=%q, must be one of %s, %s, %s", c.Type, TypeBatchLimit, TypeByteLimit, TypeNoop)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}
