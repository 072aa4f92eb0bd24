package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repos struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repos { return &Repos{db: db} }

func (r *Repos) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repos) ListSensors(ctx context.Context) ([]domain.Sensor, error) {
	out := []domain.Sensor{}
	err := r.db.SelectContext(ctx, &out, `SELECT id, name, location, x, y, z, status FROM sensors ORDER BY id`)
	return out, err
}

func (r *Repos) GetSensor(ctx context.Context, id string) (domain.Sensor, error) {
	var s domain.Sensor
	err := r.db.GetContext(ctx, &s, `SELECT id, name, location, x, y, z, status FROM sensors WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sensor{}, ErrNotFound
	}
	return s, err
}

// EnsureSensor registers a sensor seen on the bus for the first time.
// Existing rows are left alone.
func (r *Repos) EnsureSensor(ctx context.Context, s domain.Sensor) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sensors (id, name, location, x, y, z, status)
		VALUES (:id, :name, :location, :x, :y, :z, :status)
		ON CONFLICT (id) DO NOTHING`, s)
	return err
}

func (r *Repos) SetSensorStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sensors SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *Repos) CountSensorsByStatus(ctx context.Context) (active, inactive int, err error) {
	var row struct {
		Active   int `db:"active"`
		Inactive int `db:"inactive"`
	}
	err = r.db.GetContext(ctx, &row, `
		SELECT COUNT(*) FILTER (WHERE status = 'active')   AS active,
		       COUNT(*) FILTER (WHERE status = 'inactive') AS inactive
		FROM sensors`)
	return row.Active, row.Inactive, err
}

func (r *Repos) InsertReading(ctx context.Context, rd *domain.Reading) error {
	return r.db.QueryRowxContext(ctx,
		`INSERT INTO readings(sensor_id, timestamp, temperature, humidity) VALUES ($1,$2,$3,$4) RETURNING id`,
		rd.SensorID, rd.Timestamp, rd.Temperature, rd.Humidity).Scan(&rd.ID)
}

type sampleRow struct {
	Time  time.Time `db:"timestamp"`
	Value float64   `db:"value"`
}

// RecentSamples returns the newest n values of one measurement column,
// oldest first. column must be "temperature" or "humidity".
func (r *Repos) RecentSamples(ctx context.Context, sensorID, column string, n int) ([]domain.Sample, error) {
	var q string
	switch column {
	case "temperature":
		q = `SELECT timestamp, temperature AS value FROM readings
			WHERE sensor_id = $1 AND temperature IS NOT NULL
			ORDER BY timestamp DESC LIMIT $2`
	case "humidity":
		q = `SELECT timestamp, humidity AS value FROM readings
			WHERE sensor_id = $1 AND humidity IS NOT NULL
			ORDER BY timestamp DESC LIMIT $2`
	default:
		return nil, errors.New("unknown measurement " + column)
	}

	var rows []sampleRow
	if err := r.db.SelectContext(ctx, &rows, q, sensorID, n); err != nil {
		return nil, err
	}
	out := make([]domain.Sample, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = domain.Sample{Time: row.Time, Value: row.Value}
	}
	return out, nil
}

func (r *Repos) History(ctx context.Context, sensorID string, rng domain.HistoryRange) ([]domain.HistoryPoint, error) {
	out := []domain.HistoryPoint{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT timestamp,
		       COALESCE(temperature, 0) AS temperature,
		       COALESCE(humidity, 0)    AS humidity
		FROM readings
		WHERE sensor_id = $1
		  AND ($2::timestamptz IS NULL OR timestamp >= $2)
		  AND ($3::timestamptz IS NULL OR timestamp <= $3)
		ORDER BY timestamp`,
		sensorID, nullTime(rng.Start), nullTime(rng.End))
	return out, err
}

// Latest is the most recent value of each measurement for one sensor.
type Latest struct {
	SensorID    string   `db:"sensor_id"`
	Temperature *float64 `db:"temperature"`
	Humidity    *float64 `db:"humidity"`
}

func (r *Repos) LatestForActive(ctx context.Context) ([]Latest, error) {
	var out []Latest
	err := r.db.SelectContext(ctx, &out, `
		SELECT s.id AS sensor_id,
		       (SELECT rd.temperature FROM readings rd
		         WHERE rd.sensor_id = s.id AND rd.temperature IS NOT NULL
		         ORDER BY rd.timestamp DESC LIMIT 1) AS temperature,
		       (SELECT rd.humidity FROM readings rd
		         WHERE rd.sensor_id = s.id AND rd.humidity IS NOT NULL
		         ORDER BY rd.timestamp DESC LIMIT 1) AS humidity
		FROM sensors s
		WHERE s.status = 'active'`)
	return out, err
}

// LastSeen maps each sensor to the time of its newest reading.
func (r *Repos) LastSeen(ctx context.Context) (map[string]time.Time, error) {
	var rows []struct {
		SensorID string    `db:"sensor_id"`
		At       time.Time `db:"at"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT sensor_id, MAX(timestamp) AS at FROM readings GROUP BY sensor_id`); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		out[row.SensorID] = row.At
	}
	return out, nil
}

func (r *Repos) InsertAlert(ctx context.Context, a domain.Alert) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO alerts (id, sensor_id, type, severity, message, timestamp, acknowledged)
		VALUES (:id, :sensor_id, :type, :severity, :message, :timestamp, :acknowledged)`, a)
	return err
}

// ListAlerts returns the newest alerts first.
func (r *Repos) ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	out := []domain.Alert{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT a.id, a.sensor_id, COALESCE(s.name, '') AS sensor_name, a.type, a.severity,
		       a.message, a.timestamp, a.acknowledged
		FROM alerts a
		LEFT JOIN sensors s ON s.id = a.sensor_id
		ORDER BY a.timestamp DESC
		LIMIT $1`, limit)
	return out, err
}

func (r *Repos) AcknowledgeAlert(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *Repos) CountUnacknowledged(ctx context.Context, severity string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM alerts WHERE severity = $1 AND NOT acknowledged`, severity)
	return n, err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
