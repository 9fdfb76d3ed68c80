package workflow

import (
	"context"
	"strings"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/pharmacy"
	"github.com/vitanips/vitanips-core/internal/store"
	"github.com/vitanips/vitanips-core/internal/trends"
)

// trendWindow is how many recent readings a prediction looks at
const trendWindow = 10

// RecordVital stores a vital-sign reading
func (s *Service) RecordVital(ctx context.Context, v *store.VitalReading) error {
	v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
	if v.PatientID == "" || v.Kind == "" {
		return apperrors.With(apperrors.ErrBadRequest, "patient and kind are required")
	}
	return s.store.CreateVital(v)
}

// PredictVital fits the patient's recent readings of one kind
func (s *Service) PredictVital(ctx context.Context, patientID, kind string) (*trends.Prediction, error) {
	readings, err := s.store.RecentVitals(patientID, strings.ToLower(kind), trendWindow)
	if err != nil {
		return nil, err
	}
	points := make([]trends.Point, len(readings))
	for i, r := range readings {
		points[i] = trends.Point{At: r.RecordedAt, Value: r.Value}
	}
	return trends.Predict(points)
}

// NearbyPharmacy is an active pharmacy and how far it is
type NearbyPharmacy struct {
	store.Pharmacy
	DistanceKm float64 `json:"distance_km"`
}

// NearbyPharmacies lists active pharmacies within radiusKm, closest first
func (s *Service) NearbyPharmacies(ctx context.Context, at pharmacy.Location, radiusKm float64) ([]NearbyPharmacy, error) {
	if radiusKm <= 0 {
		return nil, apperrors.With(apperrors.ErrBadRequest, "radius must be positive")
	}
	all, err := s.store.ListActivePharmacies()
	if err != nil {
		return nil, err
	}

	sites := make([]pharmacy.Site, len(all))
	byID := make(map[string]store.Pharmacy, len(all))
	for i, p := range all {
		sites[i] = pharmacy.Site{ID: p.ID, Location: pharmacy.Location{Latitude: p.Latitude, Longitude: p.Longitude}}
		byID[p.ID] = p
	}

	matches := pharmacy.Nearby(at, sites, radiusKm)
	out := make([]NearbyPharmacy, len(matches))
	for i, m := range matches {
		out[i] = NearbyPharmacy{Pharmacy: byID[m.ID], DistanceKm: m.DistanceKm}
	}
	return out, nil
}
