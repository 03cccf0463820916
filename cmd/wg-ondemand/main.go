// Command wg-ondemand is a privileged host daemon that brings a WireGuard
// tunnel up only while a configured Wi-Fi network is associated and egress
// traffic to configured subnets is observed, and tears it down after an
// idle timeout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/wg-ondemand/internal/config"
	"github.com/malbeclabs/wg-ondemand/internal/logging"
	"github.com/malbeclabs/wg-ondemand/internal/metrics"
	"github.com/malbeclabs/wg-ondemand/internal/statefile"
	"github.com/malbeclabs/wg-ondemand/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// set by LDFLAGS
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath  string
	bpfObjPath  string
	statePath   string
	metricsAddr string
	enableMet   bool
)

func main() {
	root := &cobra.Command{
		Use:     "wg-ondemand",
		Short:   "Activate a WireGuard tunnel on-demand based on Wi-Fi association and traffic",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		RunE:    run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/wg-ondemand/config.toml", "path to config file")
	root.PersistentFlags().StringVar(&bpfObjPath, "bpf-object", "/usr/lib/wg-ondemand/classifier.o", "path to the compiled eBPF classifier object")
	root.PersistentFlags().StringVar(&statePath, "state-file", statefile.DefaultPath, "path to the runtime state file")
	root.PersistentFlags().BoolVar(&enableMet, "metrics-enable", false, "enable a prometheus metrics listener")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "localhost:0", "address to listen on for prometheus metrics")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	buildInfo := promauto.With(reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wg_ondemand_build_info",
			Help: "Build information of the daemon",
		},
		[]string{"version", "commit", "date"},
	)
	buildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	if enableMet {
		if err := startMetricsServer(log, reg, metricsAddr); err != nil {
			return err
		}
	}

	sup, err := supervisor.New(log, cfg, bpfObjPath, statePath, m, clockwork.NewRealClock())
	if err != nil {
		return err
	}

	log.Info("wg-ondemand starting", "wg_interface", cfg.WGInterface, "idle_timeout", cfg.IdleTimeout)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sup.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, waiting for graceful shutdown")
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func startMetricsServer(log *slog.Logger, reg *prometheus.Registry, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("starting prometheus metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		log.Info("prometheus metrics server started", "address", listener.Addr().String())
		if err := http.Serve(listener, mux); err != nil {
			log.Error("prometheus metrics server stopped", "error", err)
		}
	}()
	return nil
}
