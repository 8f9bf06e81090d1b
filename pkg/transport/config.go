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

package transport

import (
	"fmt"

	"github.com/logrange/logship/pkg/utils"
)

type (
	// Params are the transport specific settings, they are decoded into
	// the transport config struct
	Params map[string]interface{}

	Config struct {
		Type   string
		Params Params
	}
)

const (
	TypeHttp   = "http"
	TypeSyslog = "syslog"
	TypeStdout = "stdout"
	TypeNoop   = "noop"
)

const (
	PrmHttpUrl       = "Url"
	PrmHttpTimeoutMs = "TimeoutMs"
	PrmHttpUser      = "User"
	PrmHttpPassword  = "Password"
	PrmHttpHeaders   = "Headers"

	PrmSyslogProtocol   = "Protocol"
	PrmSyslogRemoteAddr = "RemoteAddr"
	PrmSyslogFacility   = "Facility"
	PrmSyslogSeverity   = "Severity"
)

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{Type: TypeStdout}
}

func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.Type != "" {
		c.Type = other.Type
	}
	if len(other.Params) > 0 {
		c.Params = other.Params
	}
}

func (c *Config) Check() error {
	switch c.Type {
	case TypeHttp:
		return c.checkParamExists(PrmHttpUrl)
	case TypeSyslog:
		return c.checkParamExists(PrmSyslogRemoteAddr)
	case TypeStdout, TypeNoop:
		return nil
	}
	return fmt.Errorf("unknown Type=%v, must be one of %s, %s, %s, %s", c.Type, TypeHttp, TypeSyslog, TypeStdout, TypeNoop)
}

func (c *Config) checkParamExists(pName string) error {
	if c.Params != nil {
		if _, ok := c.Params[pName]; ok {
			return nil
		}
	}
	return fmt.Errorf("invalid Params=%v, must have param '%v'", c.Params, pName)
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}
