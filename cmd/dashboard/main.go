package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/api"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/cloud"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/dashboard"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/realtime"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	fs := pflag.NewFlagSet("dashboard", pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if cfg.Dashboard.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var provider api.Provider
	if cfg.Dashboard.UseMockData {
		log.Warn().Msg("serving demo data, the sensor API is not contacted")
		provider = api.NewMock()
	} else {
		provider = api.New(cfg.API)
	}

	var exporter dashboard.Exporter
	if cfg.AWS.UseCloudServices && cfg.AWS.S3Bucket != "" {
		s3, err := cloud.NewS3Client(ctx, cfg.AWS.Region, cfg.AWS.S3Bucket, cfg.Dashboard.ExportExpiry())
		if err != nil {
			log.Fatal().Err(err).Msg("s3 setup failed")
		}
		exporter = s3
	}

	browsers := realtime.NewHub("browser", log.Logger)
	shell := dashboard.New(dashboard.Options{
		Provider: provider,
		Realtime: realtime.Options{
			URL:                  cfg.Realtime.URL,
			AutoConnect:          cfg.Realtime.AutoConnect,
			ReconnectDelay:       cfg.Realtime.ReconnectDelay(),
			MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		},
		PollInterval: cfg.Dashboard.PollInterval(),
		AlertsPoll:   cfg.Dashboard.AlertsPoll(),
		AlertsLimit:  cfg.Dashboard.AlertsLimit,
		MaxNotices:   cfg.Dashboard.MaxNotices,
		Exporter:     exporter,
		Logger:       log.Logger,
		OnUpdate: func(ev domain.UpdateEvent) {
			frame, err := realtime.EncodeEvent(ev)
			if err != nil {
				log.Error().Err(err).Msg("encode event for browsers")
				return
			}
			browsers.Broadcast(frame)
		},
		OnConnection: func(st realtime.State) {
			_ = browsers.BroadcastJSON(dashboard.Frame{Type: "connection", Payload: st.String()})
		},
	})
	srv := dashboard.NewServer(shell, browsers, *cfg, log.Logger)
	go browsers.Run(ctx)

	if err := shell.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("initial load incomplete")
	}
	shell.Run(ctx)
	defer shell.Close()

	httpSrv := &http.Server{Addr: cfg.Dashboard.Addr, Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Dashboard.Addr).Bool("mock", cfg.Dashboard.UseMockData).Msg("dashboard listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server exit")
	}
}
