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
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/batch"
	bytes2 "github.com/logrange/range/pkg/utils/bytes"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type (
	syslogConfig struct {
		Protocol         string
		RemoteAddr       string
		RootCAFile       string
		Facility         string
		Severity         string
		Hostname         string
		LineLenLimit     int
		ConnectTimeoutMs int
		WriteTimeoutMs   int
	}

	// syslogTransport writes every item of a batch as a syslog message,
	// the item target is the message tag. The connection is established
	// on the first send and re-established after a write failure.
	syslogTransport struct {
		cfg      *syslogConfig
		pri      Priority
		hostname string
		rootCAs  *x509.CertPool
		logger   log4g.Logger

		lock sync.Mutex
		conn net.Conn
		buf  bytes2.Writer
	}
)

const (
	ProtoTCP = "tcp"
	ProtoUDP = "udp"
	ProtoTLS = "tls"

	cSyslogTimeFmt = "2006-01-02T15:04:05.999999Z07:00"
)

func newSyslogTransport(params Params) (*syslogTransport, error) {
	var scfg = &syslogConfig{
		Protocol:         ProtoTCP,
		Facility:         "local6",
		Severity:         "info",
		ConnectTimeoutMs: 10000,
		WriteTimeoutMs:   5000,
	}
	if err := mapstructure.Decode(params, scfg); err != nil {
		return nil, fmt.Errorf("unable to decode Params=%v; %v", params, err)
	}
	if err := scfg.check(); err != nil {
		return nil, err
	}

	pri, err := ParsePriority(scfg.Facility, scfg.Severity)
	if err != nil {
		return nil, err
	}

	st := new(syslogTransport)
	st.cfg = scfg
	st.pri = pri
	st.hostname = scfg.Hostname
	if st.hostname == "" {
		st.hostname, _ = os.Hostname()
	}
	if err := st.loadRootCA(); err != nil {
		return nil, err
	}
	st.buf.Init(4096, nil)
	st.logger = log4g.GetLogger("transport.syslog").WithId("[" + scfg.RemoteAddr + "]").(log4g.Logger)
	st.logger.Info("New syslog transport, protocol=", scfg.Protocol, ", priority=", st.pri)
	return st, nil
}

// Send writes the batch items one by one. A failed write closes the
// connection, so the next Send reconnects.
func (st *syslogTransport) Send(ctx context.Context, b *batch.Batch) error {
	st.lock.Lock()
	defer st.lock.Unlock()

	if st.conn == nil {
		if err := st.connect(ctx); err != nil {
			return errors.Wrapf(ErrTransport, "could not connect to %s; %v", st.cfg.RemoteAddr, err)
		}
	}

	deadline := time.Now().Add(time.Duration(st.cfg.WriteTimeoutMs) * time.Millisecond)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := st.conn.SetWriteDeadline(deadline); err != nil {
		st.closeConn()
		return errors.Wrapf(ErrTransport, "could not set write deadline; %v", err)
	}

	now := time.Now()
	for _, it := range b.Items() {
		st.buf.Reset()
		st.format(now, it.Target, it.Source.Bytes())
		if _, err := st.conn.Write(st.buf.Buf()); err != nil {
			st.closeConn()
			return errors.Wrapf(ErrTransport, "could not write message; %v", err)
		}
	}
	return nil
}

func (st *syslogTransport) Close() error {
	st.lock.Lock()
	defer st.lock.Unlock()
	st.closeConn()
	st.buf.Close()
	return nil
}

// format writes RFC 5424 message into the buffer. Stream protocols get the
// message terminated by new line.
func (st *syslogTransport) format(now time.Time, tag string, msg []byte) {
	if lim := st.cfg.LineLenLimit; lim > 0 && len(msg) > lim {
		msg = msg[:lim]
	}
	fmt.Fprintf(&st.buf, "<%d>1 %s %s %s - - - ", st.pri, now.Format(cSyslogTimeFmt), st.hostname, tag)
	st.buf.Write(msg)
	if st.cfg.Protocol != ProtoUDP {
		st.buf.WriteByte('\n')
	}
}

func (st *syslogTransport) loadRootCA() error {
	if st.cfg.RootCAFile == "" {
		return nil
	}
	rootPem, err := ioutil.ReadFile(st.cfg.RootCAFile)
	if err != nil {
		return err
	}
	st.rootCAs = x509.NewCertPool()
	if !st.rootCAs.AppendCertsFromPEM(rootPem) {
		return fmt.Errorf("CA certificates chain is incorrect")
	}
	return nil
}

func (st *syslogTransport) connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: time.Duration(st.cfg.ConnectTimeoutMs) * time.Millisecond}
	if st.cfg.Protocol == ProtoTLS {
		conn, err := tls.DialWithDialer(dialer, ProtoTCP, st.cfg.RemoteAddr, &tls.Config{RootCAs: st.rootCAs})
		if err != nil {
			return err
		}
		st.conn = conn
		return nil
	}

	conn, err := dialer.DialContext(ctx, st.cfg.Protocol, st.cfg.RemoteAddr)
	if err != nil {
		return err
	}
	st.logger.Info("Connected to ", conn.RemoteAddr())
	st.conn = conn
	return nil
}

func (st *syslogTransport) closeConn() {
	if st.conn != nil {
		st.conn.Close()
		st.conn = nil
	}
}

//===================== syslogConfig =====================

func (sc *syslogConfig) check() error {
	switch strings.ToLower(sc.Protocol) {
	case ProtoTCP, ProtoUDP, ProtoTLS:
	default:
		return fmt.Errorf("invalid Protocol=%v, must be one of %s, %s, %s", sc.Protocol, ProtoTCP, ProtoUDP, ProtoTLS)
	}
	sc.Protocol = strings.ToLower(sc.Protocol)
	if sc.Protocol != ProtoTLS && sc.RootCAFile != "" {
		return fmt.Errorf("invalid RootCAFile=%v, must be empty if Protocol == %v", sc.RootCAFile, sc.Protocol)
	}
	if sc.RemoteAddr == "" {
		return fmt.Errorf("invalid RemoteAddr=\"\", must be non-empty")
	}
	if sc.LineLenLimit < 0 {
		return fmt.Errorf("invalid LineLenLimit=%d, must be >= 0", sc.LineLenLimit)
	}
	if sc.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("invalid ConnectTimeoutMs=%d, must be > 0", sc.ConnectTimeoutMs)
	}
	if sc.WriteTimeoutMs <= 0 {
		return fmt.Errorf("invalid WriteTimeoutMs=%d, must be > 0", sc.WriteTimeoutMs)
	}
	return nil
}
