// Package broker connects to the MQTT broker sensors publish telemetry to.
package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
)

const connectAttempts = 5

// TelemetryTopic is where sensor id publishes its readings.
func TelemetryTopic(id string) string { return "sensors/" + id + "/telemetry" }

// ClientID returns the configured id, or role plus a random suffix.
func ClientID(cfg config.MQTTConfig, role string) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return role + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Connect dials the broker, retrying with exponential backoff. onConnect
// runs after every successful (re)connect, so subscriptions made there
// survive broker restarts.
func Connect(cfg config.MQTTConfig, clientID string, logger zerolog.Logger, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	log := logger.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("connection lost")
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("client_id", clientID).Msg("connected")
		if onConnect != nil {
			onConnect(c)
		}
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	client := mqtt.NewClient(opts)
	err := backoff.Retry(func() error {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Msg("connect failed")
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, connectAttempts-1))
	if err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}
