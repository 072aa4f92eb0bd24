// Package backend opens the stores and cloud clients named by the
// configuration and hands them to the services.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/cache"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/cloud"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/database"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/repository"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/service"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/timeseries"
)

type Backends struct {
	Store    service.Store
	History  service.HistorySource
	Sinks    []service.ReadingSink
	Notifier service.Notifier
	Cache    service.SummaryCache

	pings   map[string]func(context.Context) error
	closers []func()
	cfg     config.Config
}

// Open connects everything cfg enables. Postgres is used when db.dsn is
// set, otherwise readings live in memory. On error whatever was opened is
// closed again.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (_ *Backends, err error) {
	log := logger.With().Str("component", "backend").Logger()
	b := &Backends{pings: map[string]func(context.Context) error{}, cfg: cfg}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if cfg.DB.DSN != "" {
		db, err := database.Connect(cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		b.closers = append(b.closers, func() { db.Close() })
		if err := database.Migrate(ctx, db); err != nil {
			return nil, err
		}
		repos := repository.New(db)
		b.Store = repos
		b.pings["postgres"] = repos.Ping
		log.Info().Msg("using postgres store")
	} else {
		mem := repository.NewMemory()
		b.Store = mem
		b.pings["memory"] = mem.Ping
		log.Warn().Msg("db.dsn is empty, readings are kept in memory")
	}

	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { client.Close() })
		b.Cache = cache.NewSummaryCache(client, cfg.API.SummaryTTL())
		b.pings["redis"] = func(ctx context.Context) error { return pingRedis(ctx, client) }
		log.Info().Str("addr", cfg.Redis.Addr).Msg("summary cache enabled")
	}

	var influx *timeseries.Store
	if cfg.Influx.URL != "" {
		influx, err = timeseries.New(cfg.Influx)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, influx.Close)
		b.Sinks = append(b.Sinks, influx)
		b.pings["influx"] = influx.Ping
		log.Info().Str("url", cfg.Influx.URL).Msg("mirroring readings to influx")
	}

	var dynamo *cloud.DynamoDBClient
	if cfg.AWS.UseCloudServices {
		if cfg.AWS.DynamoTable != "" {
			dynamo, err = cloud.NewDynamoDBClient(ctx, cfg.AWS.Region, cfg.AWS.DynamoTable)
			if err != nil {
				return nil, err
			}
			b.Sinks = append(b.Sinks, dynamo)
			log.Info().Str("table", cfg.AWS.DynamoTable).Msg("mirroring readings to dynamodb")
		}
		if cfg.AWS.SNSTopicArn != "" {
			sns, err := cloud.NewSNSClient(ctx, cfg.AWS.Region, cfg.AWS.SNSTopicArn)
			if err != nil {
				return nil, err
			}
			b.Notifier = sns
			log.Info().Msg("critical alerts are published to sns")
		}
	}

	switch cfg.History.Backend {
	case "influx":
		if influx == nil {
			return nil, errors.New("history.backend is influx but influx.url is empty")
		}
		b.History = influx
	case "dynamodb":
		if dynamo == nil {
			return nil, errors.New("history.backend is dynamodb but cloud services or aws.dynamo_table are off")
		}
		b.History = dynamo
	}
	return b, nil
}

func pingRedis(ctx context.Context, c *redis.Client) error { return c.Ping(ctx).Err() }

// Deps builds the service dependencies. Optional collaborators that are
// off stay nil interfaces.
func (b *Backends) Deps() service.Deps {
	return service.Deps{
		Store:          b.Store,
		History:        b.History,
		Sinks:          b.Sinks,
		Notifier:       b.Notifier,
		Cache:          b.Cache,
		Thresholds:     service.ThresholdsFrom(b.cfg.Alerts),
		OfflineTimeout: b.cfg.Alerts.OfflineTimeout(),
	}
}

// Ping checks every opened store and joins the failures.
func (b *Backends) Ping(ctx context.Context) error {
	names := make([]string, 0, len(b.pings))
	for name := range b.pings {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := b.pings[name](ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases connections in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
