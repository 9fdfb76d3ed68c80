// Package trends fits a least-squares line through vital-sign readings and
// projects the next value.
package trends

import (
	"math"
	"sort"
	"time"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
)

// Directions
const (
	DirectionRising  = "rising"
	DirectionFalling = "falling"
	DirectionStable  = "stable"
)

// stableSlope is the per-day slope below which a trend counts as flat
const stableSlope = 0.01

// Point is one reading
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Prediction is a fitted line. Slope is in units per day, measured from the
// first reading.
type Prediction struct {
	Slope     float64   `json:"slope"`
	Intercept float64   `json:"intercept"`
	Direction string    `json:"direction"`
	NextAt    time.Time `json:"next_at"`
	Next      float64   `json:"next"`
	Samples   int       `json:"samples"`
}

// Predict fits the points and projects the value one average reading
// interval after the last point.
func Predict(points []Point) (*Prediction, error) {
	if len(points) < 2 {
		return nil, apperrors.With(apperrors.ErrBadRequest, "need at least 2 readings, got %d", len(points))
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	origin := sorted[0].At
	n := float64(len(sorted))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range sorted {
		x := days(p.At.Sub(origin))
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return nil, apperrors.With(apperrors.ErrBadRequest, "readings share a single timestamp")
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	last := sorted[len(sorted)-1].At
	step := last.Sub(origin) / time.Duration(len(sorted)-1)
	nextAt := last.Add(step)

	return &Prediction{
		Slope:     slope,
		Intercept: intercept,
		Direction: direction(slope),
		NextAt:    nextAt,
		Next:      intercept + slope*days(nextAt.Sub(origin)),
		Samples:   len(sorted),
	}, nil
}

func direction(slope float64) string {
	switch {
	case math.Abs(slope) < stableSlope:
		return DirectionStable
	case slope > 0:
		return DirectionRising
	default:
		return DirectionFalling
	}
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}
