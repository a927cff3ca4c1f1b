package tracking

import (
	"math"
	"testing"
)

func TestHaversine(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{"same point", 0, 0, 0, 0, 0, 0.001},
		{"equator small offset", 0, 0, 0, 0.0018, 200.1, 0.5},
		{"one degree longitude at equator", 0, 0, 0, 1, 111195, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Haversine(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			if math.Abs(got-tc.want) > tc.tolerance {
				t.Errorf("Haversine = %.2f m, want %.2f ± %.2f", got, tc.want, tc.tolerance)
			}
		})
	}
}

func TestBearing(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"due north", 0, 0, 1, 0, 0},
		{"due east", 0, 0, 0, 1, 90},
		{"due south", 1, 0, 0, 0, 180},
		{"due west", 0, 1, 0, 0, 270},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Bearing(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			if math.Abs(got-tc.want) > 0.01 {
				t.Errorf("Bearing = %.2f°, want %.2f°", got, tc.want)
			}
		})
	}
}

func TestValidCoordinate(t *testing.T) {
	valid := [][2]float64{{0, 0}, {90, 180}, {-90, -180}, {-23.55, -46.63}}
	for _, c := range valid {
		if !ValidCoordinate(c[0], c[1]) {
			t.Errorf("ValidCoordinate(%v, %v) = false, want true", c[0], c[1])
		}
	}
	invalid := [][2]float64{{95, 0}, {-91, 0}, {0, 181}, {0, -180.5}}
	for _, c := range invalid {
		if ValidCoordinate(c[0], c[1]) {
			t.Errorf("ValidCoordinate(%v, %v) = true, want false", c[0], c[1])
		}
	}
}
