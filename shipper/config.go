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

package shipper

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/logrange/logship/pkg/delivery"
	"github.com/logrange/logship/pkg/failover"
	"github.com/logrange/logship/pkg/metrics"
	"github.com/logrange/logship/pkg/serializer"
	"github.com/logrange/logship/pkg/transport"
	"github.com/logrange/logship/pkg/utils"
	"github.com/pkg/errors"
)

type (
	// InputConfig describes how records are read
	InputConfig struct {
		// Serializer is the type of the serializer the lines are
		// converted to JSON documents with
		Serializer string

		// Target is the index the records are shipped to
		Target string

		// MaxLineBytes is the read buffer size. Longer lines are split.
		MaxLineBytes int
	}

	// Config struct contains the shipper configuration
	Config struct {
		Input     *InputConfig
		Delivery  *delivery.Config
		Transport *transport.Config
		Failover  *failover.Config
		Metrics   *metrics.Config
	}
)

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{
		Input:     NewDefaultInputConfig(),
		Delivery:  delivery.NewDefaultConfig(),
		Transport: transport.NewDefaultConfig(),
		Failover:  failover.NewDefaultConfig(),
		Metrics:   metrics.NewDefaultConfig(),
	}
}

// LoadCfgFromFile reads the JSON config from the file path
func LoadCfgFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config file %s", path)
	}

	cfg := &Config{}
	err = json.Unmarshal(data, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "could not unmarshal json data from config file %s", path)
	}
	return cfg, nil
}

// Apply overrides c's properties by non-default values from other
func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.Input != nil {
		if c.Input == nil {
			c.Input = NewDefaultInputConfig()
		}
		c.Input.Apply(other.Input)
	}
	if other.Delivery != nil {
		if c.Delivery == nil {
			c.Delivery = delivery.NewDefaultConfig()
		}
		c.Delivery.Apply(other.Delivery)
	}
	if other.Transport != nil {
		if c.Transport == nil {
			c.Transport = transport.NewDefaultConfig()
		}
		c.Transport.Apply(other.Transport)
	}
	if other.Failover != nil {
		if c.Failover == nil {
			c.Failover = failover.NewDefaultConfig()
		}
		c.Failover.Apply(other.Failover)
	}
	if other.Metrics != nil {
		if c.Metrics == nil {
			c.Metrics = metrics.NewDefaultConfig()
		}
		c.Metrics.Apply(other.Metrics)
	}
}

func (c *Config) Check() error {
	if c.Input == nil || c.Delivery == nil || c.Transport == nil || c.Failover == nil || c.Metrics == nil {
		return fmt.Errorf("Input, Delivery, Transport, Failover and Metrics must be provided")
	}
	if err := c.Input.Check(); err != nil {
		return fmt.Errorf("invalid Input; %v", err)
	}
	if err := c.Delivery.Check(); err != nil {
		return fmt.Errorf("invalid Delivery; %v", err)
	}
	if err := c.Transport.Check(); err != nil {
		return fmt.Errorf("invalid Transport; %v", err)
	}
	if err := c.Failover.Check(); err != nil {
		return fmt.Errorf("invalid Failover; %v", err)
	}
	if err := c.Metrics.Check(); err != nil {
		return fmt.Errorf("invalid Metrics; %v", err)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}

//===================== input config =====================

func NewDefaultInputConfig() *InputConfig {
	return &InputConfig{
		Serializer:   serializer.TypeJson,
		Target:       "logship",
		MaxLineBytes: 64 * 1024,
	}
}

func (ic *InputConfig) Apply(other *InputConfig) {
	if other == nil {
		return
	}
	if other.Serializer != "" {
		ic.Serializer = other.Serializer
	}
	if other.Target != "" {
		ic.Target = other.Target
	}
	if other.MaxLineBytes != 0 {
		ic.MaxLineBytes = other.MaxLineBytes
	}
}

func (ic *InputConfig) Check() error {
	if _, err := serializer.NewSerializer(ic.Serializer); err != nil {
		return err
	}
	if ic.Target == "" {
		return fmt.Errorf("invalid Target=\"\", must be non-empty")
	}
	if ic.MaxLineBytes < 16 {
		return fmt.Errorf("invalid MaxLineBytes=%d, must be >= 16", ic.MaxLineBytes)
	}
	return nil
}

func (ic *InputConfig) String() string {
	return utils.ToJsonStr(ic)
}
