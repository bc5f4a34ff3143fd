package main

import (
	"context"
	"flag"
	"os"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"

	"reconciler/internal/app"
	"reconciler/internal/control"
	"reconciler/internal/obs"
	"reconciler/internal/ops"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("reconciler: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/reconciler.yaml", "path to YAML or JSON config")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "load env %s", *envPath)
	}

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	if addr := cfg.Server.PyroscopeAddr; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Server.AppName,
			ServerAddress:   addr,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start pyroscope")
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Warnf("shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return a.Run(gctx) })

	if addr := cfg.Server.MetricsAddr; addr != "" {
		srv, err := obs.NewServer(addr, a.Collector())
		if err != nil {
			cancel()
			_ = eg.Wait()
			return err
		}
		eg.Go(func() error { return srv.Run(gctx) })
	}

	if path := cfg.Server.ControlSocket; path != "" {
		ctl, err := control.NewServer(path, a)
		if err != nil {
			cancel()
			_ = eg.Wait()
			return err
		}
		eg.Go(func() error { return ctl.Run(gctx) })
	}

	logs.Infof("reconciler started, symbols: %d, metrics: %s, control: %s",
		len(a.Runners()), cfg.Server.MetricsAddr, cfg.Server.ControlSocket)
	err = eg.Wait()
	logs.Infof("reconciler stopped")
	return err
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
