// Package run implements the stripdeck run subcommand: it assembles the
// routing engine, starts it against the persisted strip layout, and serves
// the optional telemetry endpoint until interrupted.
package run

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/engine"
	"github.com/stripdeck/stripdeck/internal/logging"
	"github.com/stripdeck/stripdeck/internal/metering"
	"github.com/stripdeck/stripdeck/internal/observability/metrics"
	"github.com/stripdeck/stripdeck/internal/pipewire"
	"github.com/stripdeck/stripdeck/internal/strip"
)

// retryInterval paces metering attach retries; one pending strip is
// retried per tick.
const retryInterval = 2 * time.Second

// Command creates the run subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		stripsPath      string
		telemetryListen string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the routing engine",
		Long:  "Build the virtual strip graph, apply routing and effect chains, and keep metering until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(settings, stripsPath, telemetryListen)
		},
	}

	cmd.Flags().StringVar(&stripsPath, "strips", viper.GetString("main.stripspath"), "Path to the strip layout file")
	cmd.Flags().StringVar(&telemetryListen, "listen", viper.GetString("main.telemetrylisten"), "Listen address for the Prometheus telemetry endpoint (empty disables)")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func execute(settings *conf.Settings, stripsPath, telemetryListen string) error {
	log := logging.ForService("run")

	if stripsPath == "" {
		paths, err := conf.GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		stripsPath = filepath.Join(paths[0], "strips.json")
	}

	strips, err := strip.Load(stripsPath)
	if err != nil {
		return err
	}
	log.Info("loaded strip layout", "path", stripsPath, "strips", len(strips))

	registry := prometheus.NewRegistry()
	engineMetrics, err := metrics.NewEngineMetrics(registry)
	if err != nil {
		return err
	}
	fxMetrics, err := metrics.NewFXMetrics(registry)
	if err != nil {
		return err
	}
	meterMetrics, err := metrics.NewMeteringMetrics(registry)
	if err != nil {
		return err
	}

	runner := pipewire.NewExecRunner(time.Duration(settings.Engine.CommandTimeoutS) * time.Second)
	disc := pipewire.NewDiscovery(runner)
	compat := pipewire.NewCompat(runner)
	session := pipewire.NewCLISession()
	nodes := engine.NewNodeManager(disc, runner, session, engineMetrics)
	linker := engine.NewPortLinker(disc, engineMetrics)
	chains := engine.NewChainBuilder(session, disc, linker, nodes, fxMetrics)
	meter := metering.NewEngine(metering.NewBroker(), meterMetrics)

	eng := engine.New(engine.Options{
		Session: session,
		Disc:    disc,
		Compat:  compat,
		Nodes:   nodes,
		Linker:  linker,
		FX:      chains,
		Meter:   meter,
		Metrics: engineMetrics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx, strips); err != nil {
		return err
	}

	if telemetryListen != "" {
		go serveTelemetry(telemetryListen, registry)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			eng.RetryPendingMeters()
		case s := <-sig:
			log.Info("signal received, shutting down", "signal", s.String())
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			eng.Shutdown(shutdownCtx)
			shutdownCancel()
			if err := strip.Save(stripsPath, strips); err != nil {
				log.Warn("could not persist strip layout", "path", stripsPath, "error", err)
			}
			return nil
		}
	}
}

func serveTelemetry(listen string, registry *prometheus.Registry) {
	log := logging.ForService("telemetry")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Info("telemetry endpoint listening", "addr", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("telemetry endpoint failed", "error", err)
	}
}
