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
	"strconv"
	"strings"
)

type (
	// Priority is the PRI value of a syslog message: facility*8 + severity
	Priority int
)

// Severities and facilities are listed in the order of their codes
var (
	severityNames = []string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}

	facilityNames = []string{"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
		"uucp", "cron", "authpriv", "ftp", "ntp", "audit", "alert", "at",
		"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7"}

	severityAliases = map[string]string{"warn": "warning", "error": "err", "panic": "emerg"}
)

// ParsePriority builds the message priority from the facility and severity
// names. A name is case-insensitive and can be given by its numeric code.
func ParsePriority(facility, severity string) (Priority, error) {
	f, err := lookupCode(facilityNames, nil, facility)
	if err != nil {
		return -1, fmt.Errorf("unknown facility %q; %v", facility, err)
	}
	s, err := lookupCode(severityNames, severityAliases, severity)
	if err != nil {
		return -1, fmt.Errorf("unknown severity %q; %v", severity, err)
	}
	return Priority(f<<3 | s), nil
}

func (p Priority) Facility() int {
	return int(p) >> 3
}

func (p Priority) Severity() int {
	return int(p) & 0x07
}

// String returns the priority in <facility>.<severity> form, like local6.info
func (p Priority) String() string {
	f, s := p.Facility(), p.Severity()
	if p < 0 || f >= len(facilityNames) {
		return strconv.Itoa(int(p))
	}
	return facilityNames[f] + "." + severityNames[s]
}

func lookupCode(names []string, aliases map[string]string, n string) (int, error) {
	n = strings.ToLower(strings.TrimSpace(n))
	if a, ok := aliases[n]; ok {
		n = a
	}
	for i, nm := range names {
		if nm == n {
			return i, nil
		}
	}
	c, err := strconv.Atoi(n)
	if err != nil {
		return -1, fmt.Errorf("expecting one of %v or a code", names)
	}
	if c < 0 || c >= len(names) {
		return -1, fmt.Errorf("the code must be in [0..%d]", len(names)-1)
	}
	return c, nil
}
