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
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/logship/pkg/delivery"
	"github.com/logrange/logship/pkg/failover"
	"github.com/logrange/logship/pkg/metrics"
	"github.com/logrange/logship/pkg/serializer"
	"github.com/logrange/logship/pkg/transport"
	"github.com/logrange/logship/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type (
	// Sender is the transport component
	Sender struct {
		Cfg *transport.Config `inject:""`

		transport.Transport
	}

	// Failover is the failover policy component
	Failover struct {
		Cfg *failover.Config `inject:""`

		failover.Policy
	}

	// Engine is the delivery component. It is shut down before the
	// transport and the failover policy it uses.
	Engine struct {
		Cfg      *delivery.Config `inject:""`
		Sender   *Sender          `inject:""`
		Failover *Failover        `inject:""`

		*delivery.Delivery
	}

	// Ingestor reads lines from the input, serializes them and passes
	// them to the Engine
	Ingestor struct {
		Cfg    *InputConfig `inject:""`
		Input  io.Reader    `inject:"input"`
		Engine *Engine      `inject:""`

		logger log4g.Logger
		ser    serializer.Serializer
		cancel context.CancelFunc
		done   chan struct{}
		lines  uint64
	}

	// Metrics exposes the Engine stats via the prometheus handler and
	// the log reporter
	Metrics struct {
		Cfg    *metrics.Config `inject:""`
		Engine *Engine         `inject:""`

		logger log4g.Logger
		srv    *http.Server
		cancel context.CancelFunc
	}
)

//===================== sender =====================

// Init provides an implementation of linker.Initializer interface
func (s *Sender) Init(ctx context.Context) error {
	tr, err := transport.NewTransport(s.Cfg)
	if err != nil {
		return err
	}
	s.Transport = tr
	return nil
}

// Shutdown provides an implementation of linker.Shutdowner interface
func (s *Sender) Shutdown() {
	s.Transport.Close()
}

//===================== failover =====================

// Init provides an implementation of linker.Initializer interface
func (f *Failover) Init(ctx context.Context) error {
	p, err := failover.NewPolicy(f.Cfg)
	if err != nil {
		return err
	}
	f.Policy = p
	return nil
}

// Shutdown provides an implementation of linker.Shutdowner interface
func (f *Failover) Shutdown() {
	f.Policy.Close()
}

//===================== engine =====================

// Init provides an implementation of linker.Initializer interface. The
// delivery runs until ctx is closed.
func (e *Engine) Init(ctx context.Context) error {
	d, err := delivery.NewDelivery(e.Cfg, e.Sender, e.Failover)
	if err != nil {
		return err
	}
	e.Delivery = d
	d.Run(ctx)
	return nil
}

// Shutdown provides an implementation of linker.Shutdowner interface
func (e *Engine) Shutdown() {
	e.Delivery.Close()
}

//===================== ingestor =====================

func NewIngestor() *Ingestor {
	ing := new(Ingestor)
	ing.logger = log4g.GetLogger("shipper.Ingestor")
	ing.done = make(chan struct{})
	return ing
}

// Init provides an implementation of linker.Initializer interface
func (ing *Ingestor) Init(ctx context.Context) error {
	ser, err := serializer.NewSerializer(ing.Cfg.Serializer)
	if err != nil {
		return err
	}
	ing.ser = ser

	ctx, ing.cancel = context.WithCancel(ctx)
	go ing.run(ctx)
	return nil
}

// Shutdown provides an implementation of linker.Shutdowner interface. A
// read which is blocked on the input is not waited for.
func (ing *Ingestor) Shutdown() {
	ing.cancel()
	if !utils.WaitDone(ing.done, time.Second) {
		ing.logger.Warn("Shutdown(): reading is still blocked on the input.")
	}
	ing.logger.Info("Shutdown(): ", ing.Lines(), " lines were read.")
}

// Lines returns number of lines read so far
func (ing *Ingestor) Lines() uint64 {
	return atomic.LoadUint64(&ing.lines)
}

// Done returns the channel which is closed when the input is over
func (ing *Ingestor) Done() <-chan struct{} {
	return ing.done
}

func (ing *Ingestor) run(ctx context.Context) {
	defer close(ing.done)

	lr := serializer.NewLineReader(ctx, ing.Input, ing.Cfg.MaxLineBytes)
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if err != io.EOF && err != io.ErrClosedPipe {
				ing.logger.Error("Could not read the input, err=", err)
			} else {
				ing.logger.Info("The input is over, err=", err)
			}
			return
		}
		n := atomic.AddUint64(&ing.lines, 1)

		err = ing.Engine.AddFunc(ing.Cfg.Target, func(w io.Writer) error {
			return ing.ser.Serialize(w, line)
		})
		if err != nil && ctx.Err() == nil {
			ing.logger.Debug("Line #", n, " is not shipped, err=", err)
		}
	}
}

//===================== metrics =====================

func NewMetrics() *Metrics {
	return &Metrics{logger: log4g.GetLogger("shipper.Metrics")}
}

// Init provides an implementation of linker.Initializer interface
func (m *Metrics) Init(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	go metrics.NewReporter(m.Engine, m.Cfg.ReportInterval()).Run(ctx)

	if m.Cfg.ListenAddr == "" {
		return nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(m.Engine)); err != nil {
		return fmt.Errorf("could not register metrics collector; %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", m.Cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("could not listen on %s; %v", m.Cfg.ListenAddr, err)
	}
	m.srv = &http.Server{Handler: mux}
	go func() {
		m.logger.Info("Serving metrics on ", ln.Addr(), "/metrics")
		if err := m.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server is over, err=", err)
		}
	}()
	return nil
}

// Shutdown provides an implementation of linker.Shutdowner interface
func (m *Metrics) Shutdown() {
	m.cancel()
	if m.srv != nil {
		m.srv.Close()
	}
}
