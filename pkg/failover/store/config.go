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

package store

import (
	"fmt"

	"github.com/logrange/logship/pkg/utils"
)

type (
	// Config struct describes the failover store
	Config struct {
		// Type is either TypeFile or TypeInMem. The TypeInMem doesn't
		// survive restarts and is supposed to be used in tests only.
		Type string

		// Location is the directory where sequence files are stored
		Location string

		// MaxEntries defines how many entries could be stored per key
		// sequence. 0 means no limit.
		MaxEntries int

		// CompactThreshold is the number of removed entries in a sequence
		// file after which the file could be rewritten
		CompactThreshold int
	}
)

const (
	TypeFile  = "file"
	TypeInMem = "inmem"
)

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{
		Type:             TypeFile,
		Location:         "/opt/logship/failover",
		MaxEntries:       1000000,
		CompactThreshold: 10000,
	}
}

func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.Type != "" {
		c.Type = other.Type
	}
	if other.Location != "" {
		c.Location = other.Location
	}
	if other.MaxEntries != 0 {
		c.MaxEntries = other.MaxEntries
	}
	if other.CompactThreshold != 0 {
		c.CompactThreshold = other.CompactThreshold
	}
}

func (c *Config) Check() error {
	switch c.Type {
	case TypeFile:
		if c.Location == "" {
			return fmt.Errorf("invalid Location=\"\", must be a directory name")
		}
	case TypeInMem:
	default:
		return fmt.Errorf("invalid Type=%q, must be %s or %s", c.Type, TypeFile, TypeInMem)
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("invalid MaxEntries=%d, must be >= 0", c.MaxEntries)
	}
	if c.CompactThreshold <= 0 {
		return fmt.Errorf("invalid CompactThreshold=%d, must be > 0", c.CompactThreshold)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}
