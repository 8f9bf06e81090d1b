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
shipper package assembles the delivery components and runs them. The
components are wired with the linker injector, which initializes them in
the dependency order and shuts them down in the reverse one.
*/
package shipper

import (
	"context"
	"fmt"
	"io"

	"github.com/jrivets/log4g"
	"github.com/logrange/linker"
)

// Start ships the records read from input using the configuration provided.
// It returns when ctx is closed or input is over, all the components are
// shut down then.
func Start(ctx context.Context, cfg *Config, input io.Reader) error {
	log := log4g.GetLogger("shipper")
	if err := cfg.Check(); err != nil {
		return fmt.Errorf("invalid config; %v", err)
	}
	log.Info("Start with config:", cfg)

	ing := NewIngestor()
	injector := linker.New()
	injector.SetLogger(log4g.GetLogger("injector"))
	injector.Register(
		linker.Component{Name: "", Value: cfg.Input},
		linker.Component{Name: "", Value: cfg.Delivery},
		linker.Component{Name: "", Value: cfg.Transport},
		linker.Component{Name: "", Value: cfg.Failover},
		linker.Component{Name: "", Value: cfg.Metrics},
		linker.Component{Name: "input", Value: input},
		linker.Component{Name: "", Value: new(Sender)},
		linker.Component{Name: "", Value: new(Failover)},
		linker.Component{Name: "", Value: new(Engine)},
		linker.Component{Name: "", Value: NewMetrics()},
		linker.Component{Name: "", Value: ing},
	)
	if err := initComponents(ctx, injector); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("Context is closed, shutting down.")
	case <-ing.Done():
		log.Info("Input is over, shutting down.")
	}
	injector.Shutdown()
	return nil
}

// initComponents turns the injector panic into an error. The injector
// shuts down the initialized components itself before the panic.
func initComponents(ctx context.Context, injector *linker.Injector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("could not initialize components; %v", r)
		}
	}()
	injector.Init(ctx)
	return nil
}
