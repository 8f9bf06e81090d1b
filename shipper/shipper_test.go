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
	"bufio"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/logrange/logship/pkg/failover"
	"github.com/logrange/logship/pkg/serializer"
	"github.com/logrange/logship/pkg/transport"
	"github.com/stretchr/testify/assert"
)

type bulkServer struct {
	lock sync.Mutex
	docs []string
}

func (bs *bulkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc := bufio.NewScanner(r.Body)
	bs.lock.Lock()
	for i := 0; sc.Scan(); i++ {
		if i%2 == 1 {
			bs.docs = append(bs.docs, sc.Text())
		}
	}
	bs.lock.Unlock()
	w.Write([]byte(`{"errors":false}`))
}

func (bs *bulkServer) get() []string {
	bs.lock.Lock()
	defer bs.lock.Unlock()
	return append([]string(nil), bs.docs...)
}

func testConfig(url string) *Config {
	cfg := NewDefaultConfig()
	cfg.Input.Serializer = serializer.TypeLogfmt
	cfg.Input.Target = "test"
	cfg.Transport = &transport.Config{Type: transport.TypeHttp, Params: transport.Params{transport.PrmHttpUrl: url}}
	cfg.Failover = &failover.Config{Type: failover.TypeNoop}
	cfg.Delivery.Emitter.MaxItems = 3
	cfg.Delivery.Emitter.FlushIntervalMs = 50
	cfg.Metrics.ReportIntervalMs = 0
	return cfg
}

func TestStartShipsInput(t *testing.T) {
	var bs bulkServer
	srv := httptest.NewServer(&bs)
	defer srv.Close()

	var sb strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "n=%d msg=hello\n", i)
	}

	err := Start(context.Background(), testConfig(srv.URL), strings.NewReader(sb.String()))
	if err != nil {
		t.Fatal("must be no error, but err=", err)
	}

	docs := bs.get()
	if len(docs) != 10 {
		t.Fatal("expecting 10 documents delivered, but got ", docs)
	}
	assert.Contains(t, docs, `{"n":"0","msg":"hello","message":"n=0 msg=hello"}`)
}

func TestStartStopsOnContext(t *testing.T) {
	var bs bulkServer
	srv := httptest.NewServer(&bs)
	defer srv.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal("could not create pipe, err=", err)
	}
	defer pw.Close()
	defer pr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		res <- Start(ctx, testConfig(srv.URL), pr)
	}()

	fmt.Fprintln(pw, "a=1")
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-res:
		assert.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start must return after the context is closed")
	}
	assert.Equal(t, 1, len(bs.get()))
}

func TestStartInitError(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Metrics.ListenAddr = "not-an-address"
	err := Start(context.Background(), cfg, strings.NewReader(""))
	if err == nil {
		t.Fatal("must be an error")
	}
}

func TestStartBadConfig(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Input.Serializer = "xml"
	if err := Start(context.Background(), cfg, strings.NewReader("")); err == nil {
		t.Fatal("must be an error")
	}
}

func TestLoadCfgFromFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "shipperTest")
	if err != nil {
		t.Fatal("could not create temp dir, err=", err)
	}
	defer os.RemoveAll(dir)

	fn := path.Join(dir, "config.json")
	ioutil.WriteFile(fn, []byte(`{
		"Input": {"Target": "app"},
		"Delivery": {"Emitter": {"MaxItems": 500}},
		"Transport": {"Type": "http", "Params": {"Url": "http://es:9200", "TimeoutMs": 1000}},
		"Failover": {"Store": {"Location": "/tmp/fq"}}
	}`), 0640)

	fc, err := LoadCfgFromFile(fn)
	if err != nil {
		t.Fatal("must be no error, but err=", err)
	}
	cfg := NewDefaultConfig()
	cfg.Apply(fc)

	assert.Nil(t, cfg.Check())
	assert.Equal(t, "app", cfg.Input.Target)
	assert.Equal(t, serializer.TypeJson, cfg.Input.Serializer)
	assert.Equal(t, 500, cfg.Delivery.Emitter.MaxItems)
	assert.Equal(t, 1000, cfg.Delivery.Emitter.FlushIntervalMs)
	assert.Equal(t, transport.TypeHttp, cfg.Transport.Type)
	assert.Equal(t, "/tmp/fq", cfg.Failover.Store.Location)
	assert.Equal(t, failover.TypeRetry, cfg.Failover.Type)

	if _, err := LoadCfgFromFile(path.Join(dir, "absent.json")); err == nil {
		t.Fatal("must be an error for absent file")
	}
	ioutil.WriteFile(fn, []byte("{"), 0640)
	if _, err := LoadCfgFromFile(fn); err == nil {
		t.Fatal("must be an error for bad json")
	}
}
