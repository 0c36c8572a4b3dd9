package models

type Route struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
	Polyline        string  `json:"polyline"`
}

type MarkerKind string

const (
	MarkerPickup MarkerKind = "pickup"
	MarkerDrop   MarkerKind = "drop"
	MarkerRider  MarkerKind = "rider"
)

type Marker struct {
	Kind     MarkerKind `json:"kind"`
	Location Location   `json:"location"`
}
