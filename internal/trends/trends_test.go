package trends

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
)

var day0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func series(values ...float64) []Point {
	pts := make([]Point, len(values))
	for i, v := range values {
		pts[i] = Point{At: day0.AddDate(0, 0, i), Value: v}
	}
	return pts
}

func TestPredict_Rising(t *testing.T) {
	p, err := Predict(series(120, 122, 124, 126))
	require.NoError(t, err)
	assert.InDelta(t, 2, p.Slope, 1e-9)
	assert.InDelta(t, 120, p.Intercept, 1e-9)
	assert.Equal(t, DirectionRising, p.Direction)
	assert.Equal(t, day0.AddDate(0, 0, 4), p.NextAt)
	assert.InDelta(t, 128, p.Next, 1e-9)
	assert.Equal(t, 4, p.Samples)
}

func TestPredict_FallingUnsorted(t *testing.T) {
	pts := series(80, 78, 76)
	pts[0], pts[2] = pts[2], pts[0]

	p, err := Predict(pts)
	require.NoError(t, err)
	assert.Equal(t, DirectionFalling, p.Direction)
	assert.InDelta(t, 74, p.Next, 1e-9)
}

func TestPredict_Stable(t *testing.T) {
	p, err := Predict(series(36.6, 36.6, 36.6))
	require.NoError(t, err)
	assert.Equal(t, DirectionStable, p.Direction)
	assert.InDelta(t, 36.6, p.Next, 1e-9)
}

func TestPredict_Errors(t *testing.T) {
	_, err := Predict(series(1))
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))

	_, err = Predict([]Point{{At: day0, Value: 1}, {At: day0, Value: 2}})
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))
}
