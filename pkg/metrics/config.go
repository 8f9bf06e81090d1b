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

package metrics

import (
	"fmt"
	"time"

	"github.com/logrange/logship/pkg/utils"
)

type (
	Config struct {
		// ListenAddr is the address the prometheus handler is served on.
		// Empty value turns the handler off.
		ListenAddr string

		// ReportIntervalMs is the period the stats are written to the log
		// with. 0 turns the reporting off.
		ReportIntervalMs int
	}
)

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:       "",
		ReportIntervalMs: 60000,
	}
}

func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalMs) * time.Millisecond
}

func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.ListenAddr != "" {
		c.ListenAddr = other.ListenAddr
	}
	if other.ReportIntervalMs != 0 {
		c.ReportIntervalMs = other.ReportIntervalMs
	}
}

func (c *Config) Check() error {
	if c.ReportIntervalMs < 0 {
		return fmt.Errorf("invalid ReportIntervalMs=%d, must be >= 0", c.ReportIntervalMs)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}
