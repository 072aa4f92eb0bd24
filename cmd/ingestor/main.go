package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/backend"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/broker"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/realtime"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	fs := pflag.NewFlagSet("ingestor", pflag.ExitOnError)
	config.Flags(fs)
	sweep := fs.Duration("sweep-interval", 30*time.Second, "how often silent sensors are checked")
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
	if err := svcs.Liveness.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("could not seed liveness from stored readings")
	}
	go svcs.Liveness.Run(ctx, *sweep)

	hub := realtime.NewHub("sensors", log.Logger)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/sensors", hub)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Realtime.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.Realtime.Addr).Msg("push endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("push endpoint failed")
		}
	}()

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		r, err := svcs.Readings.FromMQTT(ctx, msg.Topic(), msg.Payload())
		if err != nil {
			log.Error().Err(err).Str("topic", msg.Topic()).Msg("ingest failed")
			return
		}
		svcs.Liveness.Seen(ctx, r.SensorID, time.Now())

		frame, err := realtime.EncodeEvent(service.ToEvent(r))
		if err != nil {
			log.Error().Err(err).Msg("encode event")
			return
		}
		hub.Broadcast(frame)
	}

	client, err := broker.Connect(cfg.MQTT, broker.ClientID(cfg.MQTT, "ingestor"), log.Logger, func(c mqtt.Client) {
		if token := c.Subscribe(cfg.MQTT.Topic, 1, handler); token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", cfg.MQTT.Topic).Msg("subscribe failed")
			return
		}
		log.Info().Str("topic", cfg.MQTT.Topic).Msg("subscribed")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect")
	}
	defer client.Disconnect(250)

	log.Info().Msg("ingestor running; Ctrl+C to stop")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("ingestor stopped")
}
