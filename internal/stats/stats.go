// Package stats wraps the analytics aggregator for sensor values.
package stats

import (
	"math"
	"time"

	"github.com/ANIKETSHETTY47/energy-grid-analytics-go/aggregator"
)

// Series collects values for aggregation.
type Series struct {
	points []aggregator.Point
}

func (s *Series) Add(v float64, at time.Time) {
	s.points = append(s.points, aggregator.Point{Value: v, Timestamp: at})
}

func (s *Series) Len() int { return len(s.points) }

// Mean is the average of the series, or 0 when it is empty.
func (s *Series) Mean() float64 {
	if len(s.points) == 0 {
		return 0
	}
	return aggregator.Average(s.points)
}

func (s *Series) Sum() float64 {
	if len(s.points) == 0 {
		return 0
	}
	return aggregator.Sum(s.points)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 { return math.Round(v*10) / 10 }
