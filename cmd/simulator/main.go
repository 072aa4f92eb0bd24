package main

import (
	"encoding/json"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/broker"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// Reading is the telemetry message a sensor publishes. Either measurement
// may be missing.
type Reading struct {
	SensorID    string    `json:"sensor_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
}

type profile struct {
	temp, hum float64
}

var profiles = map[string]profile{
	"s1": {22.5, 65},
	"s2": {24.8, 58},
	"s3": {21.2, 72},
	"s5": {23.1, 61},
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	fs := pflag.NewFlagSet("simulator", pflag.ExitOnError)
	config.Flags(fs)
	count := fs.Int("count", 100, "messages to publish; 0 runs until stopped")
	interval := fs.Duration("interval", 500*time.Millisecond, "delay between messages")
	spike := fs.Float64("spike", 0.05, "chance a reading is pushed out of range")
	sensors := fs.StringSlice("sensors", []string{"s1", "s2", "s3", "s5"}, "sensor ids to simulate")
	_ = fs.Parse(os.Args[1:])
	if len(*sensors) == 0 {
		log.Fatal().Msg("no sensors to simulate")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	client, err := broker.Connect(cfg.MQTT, broker.ClientID(cfg.MQTT, "simulator"), log.Logger, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect")
	}
	defer client.Disconnect(250)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; *count == 0 || i < *count; i++ {
		id := (*sensors)[i%len(*sensors)]
		r := next(rng, id, *spike)
		payload, err := json.Marshal(r)
		if err != nil {
			log.Fatal().Err(err).Msg("encode reading")
		}
		token := client.Publish(broker.TelemetryTopic(id), 1, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("sensor_id", id).Msg("publish failed")
		}
		time.Sleep(*interval)
	}
	log.Info().Int("messages", *count).Msg("simulation done")
}

// next draws a reading around the sensor's profile. About one in five
// readings carries only one of the two measurements.
func next(rng *rand.Rand, id string, spike float64) Reading {
	p, ok := profiles[id]
	if !ok {
		p = profile{22, 60}
	}
	temp := p.temp + (rng.Float64()-0.5)*2
	hum := p.hum + (rng.Float64()-0.5)*10
	if rng.Float64() < spike {
		temp += 12
	}

	r := Reading{SensorID: id, Timestamp: time.Now().UTC()}
	switch rng.Intn(10) {
	case 0:
		r.Temperature = domain.Float(temp)
	case 1:
		r.Humidity = domain.Float(hum)
	default:
		r.Temperature = domain.Float(temp)
		r.Humidity = domain.Float(hum)
	}
	return r
}
