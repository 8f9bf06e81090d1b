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

package main

import (
	"context"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jrivets/log4g"
	"github.com/logrange/logship/cmd"
	"github.com/logrange/logship/pkg/transport"
	"github.com/logrange/logship/shipper"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v2"
)

const (
	Version = "0.1.0"
)

const (
	// Common flag names
	argLogCfgFile = "log-config-file"
	argPidFile    = "pid-file"

	// Ship command flag names
	argCfgFile         = "config-file"
	argShipUrl         = "url"
	argShipTarget      = "target"
	argShipSerializer  = "serializer"
	argShipItemSize    = "item-size"
	argShipMaxItemSize = "max-item-size"
	argShipFailoverDir = "failover-dir"
	argShipMetricsAddr = "metrics-addr"
)

func main() {
	defer log4g.Shutdown()

	app := &cli.App{
		Name:    "logship",
		Version: Version,
		Usage:   "Log shipper",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  argLogCfgFile,
				Usage: "The log4g configuration file name",
			},
		},
		Before: before,
		Commands: []*cli.Command{
			{
				Name:   "ship",
				Usage:  "Read records from stdin and ship them",
				Action: runShip,
				Flags: []cli.Flag{
					pidFileFlag(),
					&cli.StringFlag{
						Name:  argCfgFile,
						Usage: "The logship configuration file name",
					},
					&cli.StringFlag{
						Name:  argShipUrl,
						Usage: "The bulk API base url, records are written to stdout if not set",
					},
					&cli.StringFlag{
						Name:  argShipTarget,
						Usage: "The index the records are shipped to",
					},
					&cli.StringFlag{
						Name:  argShipSerializer,
						Usage: "The input lines format, json or logfmt",
					},
					&cli.StringFlag{
						Name:  argShipItemSize,
						Usage: "The record buffer size, e.g. 4KiB",
					},
					&cli.StringFlag{
						Name:  argShipMaxItemSize,
						Usage: "The record buffer size above which the buffer is not reused, e.g. 1MiB",
					},
					&cli.StringFlag{
						Name:  argShipFailoverDir,
						Usage: "The directory where not delivered records are kept",
					},
					&cli.StringFlag{
						Name:  argShipMetricsAddr,
						Usage: "The address /metrics are served on, e.g. :9100",
					},
				},
			},
			{
				Name:   "stop",
				Usage:  "Stop the running logship",
				Action: stopShip,
				Flags:  []cli.Flag{pidFileFlag()},
			},
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.FlagsByName(app.Commands[0].Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		getLogger().Fatal("Failed to run logship, cause: ", err)
	}
}

func pidFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  argPidFile,
		Usage: "The pid file name",
		Value: "/tmp/logship.pid",
	}
}

func before(c *cli.Context) error {
	logCfgFile := c.String(argLogCfgFile)
	if logCfgFile == "" {
		return nil
	}

	if _, err := os.Stat(logCfgFile); os.IsNotExist(err) {
		getLogger().Warn("No file ", logCfgFile, " will use default log4g configuration")
		return nil
	}
	if err := log4g.ConfigF(logCfgFile); err != nil {
		return errors.Wrapf(err, "could not parse %s file as a log4g configuration, please check syntax", logCfgFile)
	}
	return nil
}

func runShip(c *cli.Context) error {
	logger := getLogger()
	cfg := shipper.NewDefaultConfig()

	if cfgFile := c.String(argCfgFile); cfgFile != "" {
		logger.Info("Loading logship config from=", cfgFile)
		fc, err := shipper.LoadCfgFromFile(cfgFile)
		if err != nil {
			return err
		}
		cfg.Apply(fc)
	}

	if err := applyArgsToCfg(c, cfg); err != nil {
		return err
	}

	pf := cmd.NewPidFile(c.String(argPidFile))
	if err := pf.Lock(); err != nil {
		return err
	}
	defer pf.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cmd.NewNotifierOnIntTermSignal(func(s os.Signal) {
		logger.Warn("Handling signal=", s)
		cancel()
	})
	return shipper.Start(ctx, cfg, os.Stdin)
}

func stopShip(c *cli.Context) error {
	return cmd.NewPidFile(c.String(argPidFile)).Interrupt()
}

func applyArgsToCfg(c *cli.Context, cfg *shipper.Config) error {
	if url := c.String(argShipUrl); url != "" {
		cfg.Transport = &transport.Config{Type: transport.TypeHttp, Params: transport.Params{transport.PrmHttpUrl: url}}
	}
	if tgt := c.String(argShipTarget); tgt != "" {
		cfg.Input.Target = tgt
	}
	if ser := c.String(argShipSerializer); ser != "" {
		cfg.Input.Serializer = ser
	}
	if sz := c.String(argShipItemSize); sz != "" {
		n, err := humanize.ParseBytes(sz)
		if err != nil {
			return errors.Wrapf(err, "invalid --%s=%s", argShipItemSize, sz)
		}
		cfg.Delivery.Pool.ItemSizeBytes = int(n)
	}
	if sz := c.String(argShipMaxItemSize); sz != "" {
		n, err := humanize.ParseBytes(sz)
		if err != nil {
			return errors.Wrapf(err, "invalid --%s=%s", argShipMaxItemSize, sz)
		}
		cfg.Delivery.Pool.MaxItemSizeBytes = int(n)
	}
	if dir := c.String(argShipFailoverDir); dir != "" && cfg.Failover.Store != nil {
		cfg.Failover.Store.Location = dir
	}
	if addr := c.String(argShipMetricsAddr); addr != "" {
		cfg.Metrics.ListenAddr = addr
	}
	return nil
}

func getLogger() log4g.Logger {
	return log4g.GetLogger("logship")
}
