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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/batch"
	bytes2 "github.com/logrange/range/pkg/utils/bytes"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type (
	httpConfig struct {
		Url       string
		TimeoutMs int
		User      string
		Password  string
		Headers   map[string]string
	}

	// httpTransport posts bulk bodies to <Url>/_bulk. The body is built in
	// the batch body buffer if the batch has one.
	httpTransport struct {
		cfg    *httpConfig
		url    string
		client *http.Client
		logger log4g.Logger
	}

)

const (
	cMaxRespPrefix = 1024
)

func newHttpTransport(params Params) (*httpTransport, error) {
	var hcfg = &httpConfig{TimeoutMs: 30000}
	if err := mapstructure.Decode(params, hcfg); err != nil {
		return nil, fmt.Errorf("unable to decode Params=%v; %v", params, err)
	}
	if hcfg.Url == "" {
		return nil, fmt.Errorf("invalid Url=\"\", must be non-empty")
	}
	if hcfg.TimeoutMs <= 0 {
		return nil, fmt.Errorf("invalid TimeoutMs=%d, must be > 0", hcfg.TimeoutMs)
	}

	ht := new(httpTransport)
	ht.cfg = hcfg
	ht.url = strings.TrimRight(hcfg.Url, "/") + "/_bulk"
	ht.client = &http.Client{}
	ht.logger = log4g.GetLogger("transport.http").WithId("[" + ht.url + "]").(log4g.Logger)
	ht.logger.Info("New http transport, timeout=", ht.timeout())
	return ht, nil
}

// Send posts the batch. A transport error, a non-2xx status, or a bulk
// response with errors are reported as ErrTransport.
func (ht *httpTransport) Send(ctx context.Context, b *batch.Batch) error {
	var body []byte
	if bb, ok := b.Body(); ok {
		bb.Reset()
		if err := WriteBulk(bb, b); err != nil {
			return errors.Wrapf(ErrTransport, "could not build body; %v", err)
		}
		body = bb.Bytes()
	} else {
		var w bytes2.Writer
		w.Init(b.Size()+64*b.Len(), nil)
		defer w.Close()
		WriteBulk(&w, b)
		body = w.Buf()
	}

	ctx, cancel := context.WithTimeout(ctx, ht.timeout())
	defer cancel()

	req, err := http.NewRequest(http.MethodPost, ht.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(ErrTransport, "could not create request; %v", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/x-ndjson")
	for k, v := range ht.cfg.Headers {
		req.Header.Set(k, v)
	}
	if ht.cfg.User != "" {
		req.SetBasicAuth(ht.cfg.User, ht.cfg.Password)
	}

	resp, err := ht.client.Do(req)
	if err != nil {
		return errors.Wrapf(ErrTransport, "request failed; %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := ioutil.ReadAll(io.LimitReader(resp.Body, cMaxRespPrefix))
		return errors.Wrapf(ErrTransport, "status %d, response=%s", resp.StatusCode, truncate(data, 256))
	}

	hasErrs, err := readBulkErrors(resp.Body)
	if err != nil {
		return errors.Wrapf(ErrTransport, "could not parse bulk response; %v", err)
	}
	if hasErrs {
		return errors.Wrapf(ErrTransport, "bulk response has errors")
	}
	return nil
}

func (ht *httpTransport) Close() error {
	return nil
}

func (ht *httpTransport) timeout() time.Duration {
	return time.Duration(ht.cfg.TimeoutMs) * time.Millisecond
}

func truncate(data []byte, max int) string {
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// readBulkErrors reads the bulk response object from r up to its top-level
// "errors" field, which precedes the per item results. The response must be
// a JSON object, a response without "errors" is read to the end.
func readBulkErrors(r io.Reader) (bool, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return false, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return false, fmt.Errorf("expecting an object, but got %v", tok)
	}

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return false, err
		}
		if key, _ := tok.(string); key == "errors" {
			var res bool
			if err := dec.Decode(&res); err != nil {
				return false, err
			}
			return res, nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return false, err
		}
	}

	if _, err := dec.Token(); err != nil {
		return false, err
	}
	return false, nil
}
