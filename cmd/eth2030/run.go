package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/log"
	"github.com/eth2030/eth2030/metrics"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "hold a datadir open, serve Prometheus metrics, and report engine state until signaled",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Required: true, Usage: "data directory path"},
			&cli.BoolFlag{Name: "pebble", Value: true, Usage: "the datadir is pebble-backed (must match how it was init'd)"},
			&cli.StringFlag{Name: "contract", Value: "0x000000000000000000000000000000000000c0", Usage: "Casper contract address"},
			&cli.StringFlag{Name: "metrics-addr", Value: "127.0.0.1:6060", Usage: "address to serve /metrics on"},
			&cli.BoolFlag{Name: "metrics", Value: true, Usage: "enable the Prometheus metrics endpoint"},
			&cli.DurationFlag{Name: "report-interval", Value: 15 * time.Second, Usage: "how often to log engine state"},
		},
		Action: func(c *cli.Context) error {
			logger := log.Default().Module("cmd")
			dataDir := c.String("datadir")

			b, err := openBackend(dataDir, c.Bool("pebble"))
			if err != nil {
				return fmt.Errorf("open datadir: %w", err)
			}
			defer b.close()

			engine := newEngine(types.HexToAddress(c.String("contract")))

			reg := metrics.NewRegistry()
			depositsGauge := reg.Gauge("casper.total_deposits_wei")
			epochGauge := reg.Gauge("casper.current_epoch")
			skipsGauge := reg.Gauge("casper.total_skips")

			var srv *http.Server
			if c.Bool("metrics") {
				exporter := metrics.NewPrometheusExporter(reg, metrics.DefaultPrometheusConfig())
				srv = &http.Server{Addr: c.String("metrics-addr"), Handler: exporter.Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server exited", "err", err)
					}
				}()
				logger.Info("metrics endpoint listening", "addr", c.String("metrics-addr"))
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(c.Duration("report-interval"))
			defer ticker.Stop()

			logger.Info("eth2030 running", "datadir", dataDir, "contract", c.String("contract"))
			for {
				select {
				case <-ticker.C:
					total := engine.Epochs.TotalDeposits()
					depositsGauge.Set(int64(total.Uint64())) // low 64 bits; deposits in practice stay well under 2^63 wei
					epochGauge.Set(int64(engine.Epochs.CurrentEpoch()))
					skipsGauge.Set(int64(engine.Epochs.TotalSkips()))
					logger.Info("engine status", "current_epoch", engine.Epochs.CurrentEpoch(), "total_deposits", total.String(), "total_skips", engine.Epochs.TotalSkips())
				case sig := <-sigCh:
					logger.Info("received signal, shutting down", "signal", sig.String())
					if srv != nil {
						ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						srv.Shutdown(ctx)
					}
					if _, err := b.commit(dataDir, false); err != nil {
						return fmt.Errorf("final commit: %w", err)
					}
					logger.Info("shutdown complete")
					return nil
				}
			}
		},
	}
}
