// Command fast-messages-agent runs a standalone streaming client, reading
// its configuration from the environment and logging every received event.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/node-fast-messages/client"
	"github.com/TritonDataCenter/node-fast-messages/event"
)

type config struct {
	Host     string `envconfig:"HOST" default:"127.0.0.1"`
	Port     int    `envconfig:"PORT" default:"4401"`
	ClientID string `envconfig:"CLIENT_ID" required:"true"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"fatal"`
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
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("client_id", cfg.ClientID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var c *client.Client
	handlers := client.Handlers{
		OnConnect: func() {
			log.Info().Msg("connected")
			c.Start()
		},
		OnStart: func() { log.Info().Msg("streaming started") },
		OnMessage: func(e event.Event) {
			log.Info().Str("name", e.Name).Str("req_id", e.ReqID).Interface("value", e.Value).Msg("message")
		},
		OnClose:        func() { log.Info().Msg("closed") },
		OnStateChanged: func(s string) { log.Debug().Str("state", s).Msg("state changed") },
	}

	c, err = client.New(cfg.ClientID, cfg.Host, cfg.Port, client.WithLogger(log), client.WithHandlers(handlers))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct client")
	}

	c.Connect()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	c.Close()
}
