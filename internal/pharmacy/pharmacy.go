// Package pharmacy finds pharmacies near a point.
package pharmacy

import (
	"math"
	"sort"
)

const earthRadiusKm = 6371.0

// Location is a point on the globe in decimal degrees
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Site is anything with an ID and a location
type Site struct {
	ID       string
	Location Location
}

// Match is a site within range and its distance in kilometres
type Match struct {
	ID         string  `json:"id"`
	DistanceKm float64 `json:"distance_km"`
}

// Distance returns the great-circle distance between a and b in kilometres
func Distance(a, b Location) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Nearby returns the sites within radiusKm of origin, closest first
func Nearby(origin Location, sites []Site, radiusKm float64) []Match {
	matches := make([]Match, 0, len(sites))
	for _, s := range sites {
		d := Distance(origin, s.Location)
		if d <= radiusKm {
			matches = append(matches, Match{ID: s.ID, DistanceKm: math.Round(d*100) / 100})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	return matches
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
