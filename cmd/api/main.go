package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/backend"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	httpHandlers "github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/http"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	fs := pflag.NewFlagSet("api", pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, *cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("backend setup failed")
	}
	defer b.Close()

	svcs := service.New(b.Deps())
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	httpHandlers.Register(app, svcs, httpHandlers.Options{
		Key:       cfg.API.Key,
		AuthToken: cfg.API.AuthToken,
		Ping:      b.Ping,
	})

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		_ = app.Shutdown()
	}()

	log.Info().Str("addr", cfg.API.Addr).Str("history", cfg.History.Backend).Msg("api listening")
	if err := app.Listen(cfg.API.Addr); err != nil {
		log.Fatal().Err(err).Msg("server exit")
	}
}
