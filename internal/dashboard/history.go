package dashboard

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/cloud"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/stats"
)

var ErrExportDisabled = errors.New("history export is not configured")

var csvHeader = []string{"Timestamp", "Temperature (C)", "Humidity (%)"}

// Range presets offered by the history panel.
var presets = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// PresetRange turns a preset such as "24h" into a range ending at now. An
// empty preset is unbounded.
func PresetRange(preset string, now time.Time) (domain.HistoryRange, error) {
	if preset == "" {
		return domain.HistoryRange{}, nil
	}
	d, ok := presets[preset]
	if !ok {
		return domain.HistoryRange{}, fmt.Errorf("unknown range %q", preset)
	}
	return domain.HistoryRange{Start: now.Add(-d), End: now}, nil
}

type HistoryStats struct {
	AvgTemperature float64 `json:"avgTemperature"`
	AvgHumidity    float64 `json:"avgHumidity"`
	Points         int     `json:"points"`
}

type HistoryReport struct {
	SensorID string                `json:"sensorId"`
	Range    domain.HistoryRange   `json:"-"`
	Points   []domain.HistoryPoint `json:"points"`
	Stats    HistoryStats          `json:"stats"`
}

func Stats(points []domain.HistoryPoint) HistoryStats {
	var temps, hums stats.Series
	for _, p := range points {
		temps.Add(p.Temperature, p.Timestamp)
		hums.Add(p.Humidity, p.Timestamp)
	}
	return HistoryStats{
		AvgTemperature: stats.Round1(temps.Mean()),
		AvgHumidity:    stats.Round1(hums.Mean()),
		Points:         len(points),
	}
}

// History fetches the rows of one sensor for rng.
func (s *Shell) History(ctx context.Context, id string, rng domain.HistoryRange) (HistoryReport, error) {
	if _, ok := s.sensor(id); !ok {
		return HistoryReport{}, fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	pts, err := s.provider.GetSensorHistory(ctx, id, rng)
	if err != nil {
		s.notice("error", "Failed to load history data")
		return HistoryReport{}, err
	}
	if pts == nil {
		pts = []domain.HistoryPoint{}
	}
	return HistoryReport{SensorID: id, Range: rng, Points: pts, Stats: Stats(pts)}, nil
}

// CSV renders points with one header row.
func CSV(points []domain.HistoryPoint) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, p := range points {
		row := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Temperature, 'f', -1, 64),
			strconv.FormatFloat(p.Humidity, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// CSVFilename is the download name of an export taken at the given time.
func CSVFilename(id string, at time.Time) string {
	return fmt.Sprintf("sensor_%s_history_%s.csv", id, at.UTC().Format("20060102T150405Z"))
}

// ExportHistory uploads the CSV of one sensor's history and returns a link.
func (s *Shell) ExportHistory(ctx context.Context, id string, rng domain.HistoryRange) (string, error) {
	if s.opts.Exporter == nil {
		return "", ErrExportDisabled
	}
	report, err := s.History(ctx, id, rng)
	if err != nil {
		return "", err
	}
	data, err := CSV(report.Points)
	if err != nil {
		return "", err
	}
	url, err := s.opts.Exporter.UploadExport(ctx, cloud.ExportKey(id, s.opts.Now()), data, "text/csv")
	if err != nil {
		s.notice("error", "Failed to export history")
		return "", fmt.Errorf("upload export: %w", err)
	}
	s.notice("success", "History exported")
	return url, nil
}

// Exports lists the keys of earlier history exports of one sensor, oldest
// name first.
func (s *Shell) Exports(ctx context.Context, id string) ([]string, error) {
	if _, ok := s.sensor(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	lister, ok := s.opts.Exporter.(Lister)
	if !ok {
		return nil, ErrExportDisabled
	}
	keys, err := lister.ListExports(ctx, cloud.ExportPrefix(id))
	if err != nil {
		s.notice("error", "Failed to list exports")
		return nil, fmt.Errorf("list exports: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	sort.Strings(keys)
	return keys, nil
}
