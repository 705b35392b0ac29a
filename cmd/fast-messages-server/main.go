// Command fast-messages-server runs a standalone subscription server,
// reading its configuration from the environment.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/node-fast-messages/server"
)

type config struct {
	Port        int    `envconfig:"PORT" default:"4401"`
	ServerID    string `envconfig:"SERVER_ID"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"fatal"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9401"`
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.FatalLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	srv, err := server.New(cfg.ServerID, server.WithLogger(log), server.WithMetrics(metrics))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct server")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := srv.Listen(addr); err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("failed to listen")
	}
	log.Info().Str("addr", addr).Str("server_id", srv.ServerID()).Msg("listening")

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	_ = metricsSrv.Close()
	_ = srv.Close()
}
