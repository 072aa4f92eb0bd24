package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/diagnose"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	fs := pflag.NewFlagSet("diagnose", pflag.ExitOnError)
	config.Flags(fs)
	timeout := fs.Duration("timeout", 5*time.Second, "per-probe timeout")
	asJSON := fs.Bool("json", false, "print the results as JSON instead of log lines")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	results := diagnose.Run(context.Background(), diagnose.Probes(*cfg), *timeout)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		for _, r := range results {
			if r.OK {
				log.Info().Str("probe", r.Name).Str("target", r.Target).Dur("took", r.Took).Msg("reachable")
			} else {
				log.Error().Str("probe", r.Name).Str("target", r.Target).Str("error", r.Error).Msg("unreachable")
			}
		}
	}

	if n := diagnose.Failed(results); n > 0 {
		log.Error().Int("failed", n).Int("probes", len(results)).Msg("diagnosis finished with failures")
		os.Exit(1)
	}
	log.Info().Int("probes", len(results)).Msg("diagnosis finished")
}
