package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"lightengine/internal/api"
	"lightengine/internal/config"
	"lightengine/internal/dmx"
	"lightengine/internal/dmx/artnet"
	"lightengine/internal/dmx/mqtt"
	"lightengine/internal/engine"
	"lightengine/internal/logger"
	"lightengine/internal/metrics"
	"lightengine/internal/object"
	"lightengine/internal/patch"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file (toml or yaml)")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}
	mainLog := log.With(logger.Fields{"module": "main"})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	m := metrics.New()
	reg := object.NewRegistry()
	eng := engine.New(log, reg, m, cfg.Engine)
	iface := dmx.NewInterface(log, m, cfg.DMX)

	if err := patch.Apply(log, cfg, reg, eng, iface); err != nil {
		mainLog.Warnf("configuration has errors, affected entries skipped: %v", err)
	}

	dev, err := newDevice(ctx, log, cfg)
	if err != nil {
		mainLog.Errorf("error while creating the %s device: %v", cfg.DMX.Device, err)
		iface.Close()
		os.Exit(1)
	}
	if dev != nil {
		iface.SetDevice(dev)
	} else {
		mainLog.Warn("no DMX device configured, nothing will be sent")
	}

	// Данные с входов DMX пишем в журнал.
	inLog := log.With(logger.Fields{"module": "dmx-in"})
	iface.AddAsyncCoalescedListener(func(e dmx.Event) {
		switch e.Type {
		case dmx.DataInChanged:
			inLog.Debugf("universe %s changed by %s", e.Address, e.Source)
		case dmx.DeviceError:
			inLog.Debugf("universe %s not sent: %v", e.Address, e.Err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return iface.Run(gctx) })
	if cfg.HTTP.Listen != "" {
		srv := api.New(log, iface, eng, reg, m)
		g.Go(func() error { return srv.Run(gctx, cfg.HTTP.Listen) })
	}

	if err := g.Wait(); err != nil {
		mainLog.Errorf("stopped with error: %v", err)
	}

	iface.Close()
	mainLog.Info("shutdown complete")
}

// newDevice creates the configured device; "none" returns nil.
func newDevice(ctx context.Context, log logger.Logger, cfg *config.Config) (dmx.Device, error) {
	switch cfg.DMX.Device {
	case "artnet":
		d, err := artnet.New(log, cfg.ArtNet)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "mqtt":
		d, err := mqtt.New(ctx, log, cfg.MQTT)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "memory":
		return dmx.NewMemoryDevice("memory"), nil
	}
	return nil, nil
}
