// Package diagnose checks that every endpoint the dashboard depends on is
// reachable.
package diagnose

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/api"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/cache"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/database"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/realtime"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/timeseries"
)

type Probe struct {
	Name   string
	Target string
	Check  func(ctx context.Context) error
}

type Result struct {
	Name   string        `json:"name"`
	Target string        `json:"target"`
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Took   time.Duration `json:"took"`
}

// Run executes the probes concurrently, each bounded by timeout, and
// returns the results in probe order.
func Run(ctx context.Context, probes []Probe, timeout time.Duration) []Result {
	out := make([]Result, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			err := p.Check(pctx)
			out[i] = Result{Name: p.Name, Target: p.Target, OK: err == nil, Took: time.Since(start)}
			if err != nil {
				out[i].Error = err.Error()
			}
		}(i, p)
	}
	wg.Wait()
	return out
}

// Failed counts the results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.OK {
			n++
		}
	}
	return n
}

// Probes builds the checks for everything cfg configures. Unset optional
// backends are left out.
func Probes(cfg config.Config) []Probe {
	probes := []Probe{
		{Name: "api", Target: cfg.API.BaseURL, Check: func(ctx context.Context) error {
			return httpHealth(ctx, cfg.API.BaseURL+"/health")
		}},
		{Name: "api-sensors", Target: cfg.API.BaseURL + "/sensors", Check: func(ctx context.Context) error {
			_, err := api.New(cfg.API).ListSensors(ctx)
			return err
		}},
		{Name: "realtime", Target: cfg.Realtime.URL, Check: func(ctx context.Context) error {
			conn, err := realtime.WebsocketDialer{}.Dial(ctx, cfg.Realtime.URL)
			if err != nil {
				return err
			}
			return conn.Close()
		}},
	}
	if cfg.DB.DSN != "" {
		probes = append(probes, Probe{Name: "postgres", Target: "db.dsn", Check: func(ctx context.Context) error {
			db, err := database.Connect(cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.PingContext(ctx)
		}})
	}
	if cfg.Redis.Addr != "" {
		probes = append(probes, Probe{Name: "redis", Target: cfg.Redis.Addr, Check: func(ctx context.Context) error {
			c, err := cache.Connect(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			return c.Close()
		}})
	}
	if cfg.Influx.URL != "" {
		probes = append(probes, Probe{Name: "influx", Target: cfg.Influx.URL, Check: func(ctx context.Context) error {
			s, err := timeseries.New(cfg.Influx)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Ping(ctx)
		}})
	}
	return probes
}

func httpHealth(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
