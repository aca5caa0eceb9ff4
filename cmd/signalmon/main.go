package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/tipctl/internal/config"
	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/monitor"
	"github.com/danmuck/tipctl/internal/observability"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/status"
)

func main() {
	configPath := flag.String("config", "cmd/signalmon/config.toml", "path to the signalmon config")
	envPath := flag.String("env", ".env", "optional .env file")
	verbose := flag.Bool("print", false, "log every sample at info")
	flag.Parse()

	_ = godotenv.Load(*envPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalmon: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Monitor.Enabled {
		fmt.Fprintln(os.Stderr, "signalmon: monitor.enabled is false")
		os.Exit(1)
	}
	observability.InitLogger(cfg.Name, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, *verbose); err != nil {
		logging.Errorf("signalmon exit err=%v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, verbose bool) error {
	client, err := instrument.Connect(ctx, cfg.Instrument.Client())
	if err != nil {
		return err
	}
	defer client.Close()

	reg, err := signals.Load(ctx, client)
	if err != nil {
		return err
	}
	idx, mcfg, err := cfg.Monitor.Monitor(reg)
	if err != nil {
		return err
	}
	sampler, err := monitor.NewSampler(client, reg, idx, cfg.Monitor.WaitNewest)
	if err != nil {
		return err
	}
	sinks, err := cfg.Monitor.Sinks(cfg.Name)
	if err != nil {
		return err
	}
	mon, err := monitor.New(sampler, mcfg, sinks...)
	if err != nil {
		return err
	}
	logging.Infof("signalmon session=%s signals=%v", mon.SessionID(), sampler.Names())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error {
		consume(mon.Samples(), verbose)
		return nil
	})
	if cfg.Status.Enabled {
		srv := status.New(cfg.Name, cfg.Status.Addr, status.Sources{Monitor: mon, Registry: reg},
			status.WithCORS(cfg.Status.CorsOrigins), status.WithToken(cfg.Status.Token))
		g.Go(func() error { return srv.Serve(gctx) })
	}
	err = g.Wait()
	st := mon.Stats()
	logging.Infof("signalmon done session=%s published=%d dropped=%d errors=%d", mon.SessionID(), st.Published, st.Dropped, st.Errors)
	return err
}

func consume(samples <-chan monitor.Sample, verbose bool) {
	last := time.Now()
	for s := range samples {
		if verbose {
			logging.Infof("signalmon seq=%d values=%v", s.Seq, s.Values)
			continue
		}
		if time.Since(last) >= 10*time.Second {
			last = time.Now()
			msg := fmt.Sprintf("signalmon seq=%d values=%v", s.Seq, s.Values)
			if s.Verdict != nil {
				msg += fmt.Sprintf(" stable=%t", s.Verdict.Stable)
			}
			logging.Infof("%s", msg)
		}
	}
}
