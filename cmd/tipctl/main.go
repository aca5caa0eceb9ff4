package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/tipctl/internal/action"
	"github.com/danmuck/tipctl/internal/config"
	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/monitor"
	"github.com/danmuck/tipctl/internal/observability"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/status"
	"github.com/danmuck/tipctl/internal/stream"
	"github.com/danmuck/tipctl/internal/tipprep"
)

const (
	exitOK = iota
	exitError
	exitLimit
)

func main() {
	configPath := flag.String("config", "cmd/tipctl/config.toml", "path to the tipctl config")
	overridePath := flag.String("override", "", "optional per-bench override file")
	envPath := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *overridePath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tipctl: %v\n", err)
		os.Exit(exitError)
	}
	observability.InitLogger(cfg.Name, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config) int {
	client, err := instrument.Connect(ctx, cfg.Instrument.Client())
	if err != nil {
		logging.Errorf("tipctl connect instrument err=%v", err)
		return exitError
	}
	defer client.Close()

	streamMap, err := cfg.Stream.StreamMap()
	if err != nil {
		logging.Errorf("tipctl stream map err=%v", err)
		return exitError
	}
	reg, err := signals.Load(ctx, client, streamMap)
	if err != nil {
		logging.Errorf("tipctl load signals err=%v", err)
		return exitError
	}
	logging.Infof("tipctl signals loaded count=%d collisions=%d", reg.Len(), len(reg.Collisions()))

	var opts []action.Option
	if cfg.Log.ActionLog != "" {
		lw, err := action.OpenLog(cfg.Log.ActionLog)
		if err != nil {
			logging.Errorf("tipctl action log err=%v", err)
			return exitError
		}
		defer lw.Close()
		opts = append(opts, action.WithLog(lw))
	}
	driver := action.NewDriver(client, opts...)

	if len(cfg.Stream.Channels) > 0 {
		start := action.Chain{action.StartStream{Channels: cfg.Stream.Channels, Oversampling: cfg.Stream.Oversampling}}
		if _, err := driver.ExecuteChain(ctx, start); err != nil {
			logging.Errorf("tipctl start stream err=%v", err)
			return exitError
		}
		defer driver.Execute(context.Background(), action.StopStream{})
	}

	reader, err := stream.Open(ctx, cfg.Stream.Reader())
	if err != nil {
		logging.Errorf("tipctl open stream err=%v", err)
		return exitError
	}
	defer reader.Close()

	tcfg, err := cfg.Controller.Tipprep(reg)
	if err != nil {
		logging.Errorf("tipctl controller config err=%v", err)
		return exitError
	}
	ctrl, err := tipprep.New(tcfg, driver, reader)
	if err != nil {
		logging.Errorf("tipctl controller err=%v", err)
		return exitError
	}

	src := status.Sources{Controller: ctrl, Registry: reg}
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		if mon, err = buildMonitor(cfg, client, reg); err != nil {
			logging.Errorf("tipctl monitor err=%v", err)
			return exitError
		}
		src.Monitor = mon
	}

	// Background tasks end when the controller does.
	bgCtx, cancelBG := context.WithCancel(ctx)
	defer cancelBG()
	g, gctx := errgroup.WithContext(bgCtx)
	if cfg.Status.Enabled {
		srv := status.New(cfg.Name, cfg.Status.Addr, src,
			status.WithCORS(cfg.Status.CorsOrigins), status.WithToken(cfg.Status.Token))
		g.Go(func() error { return srv.Serve(gctx) })
	}
	if mon != nil {
		g.Go(func() error {
			go drain(mon.Samples())
			return mon.Run(gctx)
		})
	}

	out, runErr := ctrl.Run(ctx)
	cancelBG()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warnf("tipctl background task err=%v", err)
	}

	for _, c := range out.Cycles {
		logging.Infof("tipctl cycle=%d pulsed=%t voltage=%.3f polarity=%s stable=%t drift=%.4g",
			c.Cycle, c.Pulsed, c.Voltage, c.Polarity, c.Verdict.Stable, c.Verdict.Drift)
	}
	switch {
	case runErr != nil:
		logging.Errorf("tipctl run state=%s reason=%s err=%v", out.State, out.Reason, runErr)
		return exitError
	case out.Reason == tipprep.ReasonLimitExceeded:
		logging.Warnf("tipctl limit exceeded pulses=%d elapsed=%s", out.Pulses, out.Elapsed)
		return exitLimit
	default:
		logging.Infof("tipctl tip stable pulses=%d elapsed=%s", out.Pulses, out.Elapsed)
		return exitOK
	}
}

func buildMonitor(cfg config.Config, caller instrument.Caller, reg *signals.Registry) (*monitor.Monitor, error) {
	idx, mcfg, err := cfg.Monitor.Monitor(reg)
	if err != nil {
		return nil, err
	}
	sampler, err := monitor.NewSampler(caller, reg, idx, cfg.Monitor.WaitNewest)
	if err != nil {
		return nil, err
	}
	sinks, err := cfg.Monitor.Sinks(cfg.Name)
	if err != nil {
		return nil, err
	}
	return monitor.New(sampler, mcfg, sinks...)
}

// drain keeps a Block-policy monitor from stalling when only sinks consume it.
func drain(samples <-chan monitor.Sample) {
	for range samples {
	}
}
