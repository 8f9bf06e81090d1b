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

package utils

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"
)

type (
	// stickyWriter keeps the first write error and skips writes after it
	stickyWriter struct {
		w   io.Writer
		err error
	}
)

const hexDigits = "0123456789abcdef"

// ToJsonStr encodes v to a json string. It is for configs and stats
// in log lines, records are written with WriteJsonStr.
func ToJsonStr(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

// WriteJsonStr writes s to w as a quoted JSON string without building it in
// memory first. HTML symbols are written as is, invalid UTF-8 bytes are
// replaced by \ufffd.
func WriteJsonStr(w io.Writer, s string) error {
	sw := stickyWriter{w: w}
	sw.writeString(`"`)
	start := 0
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			if b >= ' ' && b != '"' && b != '\\' {
				i++
				continue
			}
			sw.writeString(s[start:i])
			sw.writeEscaped(b)
			i++
			start = i
			continue
		}

		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			sw.writeString(s[start:i])
			sw.writeString(`\ufffd`)
		case r == '\u2028' || r == '\u2029':
			// valid JSON, but not valid javascript
			sw.writeString(s[start:i])
			sw.writeString(`\u202`)
			sw.writeString(hexDigits[r&0xF : r&0xF+1])
		default:
			i += size
			continue
		}
		i += size
		start = i
	}
	sw.writeString(s[start:])
	sw.writeString(`"`)
	return sw.err
}

func (sw *stickyWriter) writeString(s string) {
	if sw.err == nil && len(s) > 0 {
		_, sw.err = io.WriteString(sw.w, s)
	}
}

func (sw *stickyWriter) writeEscaped(b byte) {
	switch b {
	case '\\', '"':
		sw.writeString(string([]byte{'\\', b}))
	case '\n':
		sw.writeString(`\n`)
	case '\r':
		sw.writeString(`\r`)
	case '\t':
		sw.writeString(`\t`)
	default:
		sw.writeString(string([]byte{'\\', 'u', '0', '0', hexDigits[b>>4], hexDigits[b&0xF]}))
	}
}
