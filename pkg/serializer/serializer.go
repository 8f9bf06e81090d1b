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

/*
serializer package turns text log lines into the JSON documents which are
shipped. Serializers write directly into the writer provided, so a record
could be serialized right into a pooled buffer.
*/
package serializer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/kr/logfmt"
	"github.com/logrange/logship/pkg/utils"
)

type (
	// Serializer writes the JSON document for line into w
	Serializer interface {
		Serialize(w io.Writer, line []byte) error
	}

	// jsonSerializer passes JSON objects as is and wraps any other line
	// into {"message": <line>}
	jsonSerializer struct{}

	// logfmtSerializer turns the logfmt pairs of a line into the document
	// fields, the whole line is kept in the "message" field
	logfmtSerializer struct{}

	pairs struct {
		keys []string
		vals map[string]string
	}
)

const (
	TypeJson   = "json"
	TypeLogfmt = "logfmt"

	cMessageField = "message"
)

var (
	ErrEmptyLine = fmt.Errorf("empty line")
)

// NewSerializer returns the serializer of type tp
func NewSerializer(tp string) (Serializer, error) {
	switch tp {
	case TypeJson:
		return jsonSerializer{}, nil
	case TypeLogfmt:
		return logfmtSerializer{}, nil
	}
	return nil, fmt.Errorf("unknown serializer type=%v, must be %s or %s", tp, TypeJson, TypeLogfmt)
}

//===================== jsonSerializer =====================

func (jsonSerializer) Serialize(w io.Writer, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return ErrEmptyLine
	}
	if line[0] == '{' && line[len(line)-1] == '}' {
		_, err := w.Write(line)
		return err
	}
	return writeFields(w, nil, line)
}

//===================== logfmtSerializer =====================

func (logfmtSerializer) Serialize(w io.Writer, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return ErrEmptyLine
	}

	p := &pairs{vals: make(map[string]string)}
	if err := logfmt.Unmarshal(line, p); err != nil {
		p = nil
	}
	return writeFields(w, p, line)
}

func (p *pairs) HandleLogfmt(key, val []byte) error {
	k := string(key)
	if _, ok := p.vals[k]; !ok {
		p.keys = append(p.keys, k)
	}
	p.vals[k] = string(val)
	return nil
}

// writeFields writes the pairs as a JSON object. The line is added as the
// message field, unless the pairs have it already.
func writeFields(w io.Writer, p *pairs, line []byte) error {
	if _, err := io.WriteString(w, "{"); err != nil {
		return err
	}

	hasMsg := false
	if p != nil {
		for i, k := range p.keys {
			if k == cMessageField {
				hasMsg = true
			}
			if i > 0 {
				io.WriteString(w, ",")
			}
			utils.WriteJsonStr(w, k)
			io.WriteString(w, ":")
			if err := utils.WriteJsonStr(w, p.vals[k]); err != nil {
				return err
			}
		}
	}

	if !hasMsg {
		if p != nil && len(p.keys) > 0 {
			io.WriteString(w, ",")
		}
		io.WriteString(w, "\""+cMessageField+"\":")
		utils.WriteJsonStr(w, string(line))
	}
	_, err := io.WriteString(w, "}")
	return err
}
