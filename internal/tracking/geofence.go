package tracking

// Geofence is a circular zone around a point. The trigger is one-shot per
// session: once a position enters the radius the flag is set and stays set
// until the session stops, so a vehicle leaving and re-entering the zone
// does not re-alert.
type Geofence struct {
	ID           string  `json:"id"`
	VehicleID    string  `json:"vehicle_id"`
	CenterLat    float64 `json:"center_lat"`
	CenterLon    float64 `json:"center_lon"`
	RadiusMeters float64 `json:"radius_meters"`
	Label        string  `json:"label"`
	Triggered    bool    `json:"triggered"`
}

// contains reports whether the position lies within the fence radius.
func (g *Geofence) contains(lat, lon float64) bool {
	return Haversine(g.CenterLat, g.CenterLon, lat, lon) <= g.RadiusMeters
}
