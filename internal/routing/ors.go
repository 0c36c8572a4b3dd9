package routing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jogardn/delivery-tracker/pkg/models"
)

var ErrNoRoute = errors.New("no route found")

type orsSummary struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}

type orsResponse struct {
	Error    json.RawMessage `json:"error"`
	Features []struct {
		Geometry   json.RawMessage `json:"geometry"`
		Properties struct {
			Summary  *orsSummary  `json:"summary"`
			Segments []orsSummary `json:"segments"`
		} `json:"properties"`
	} `json:"features"`
	Routes []struct {
		Summary  orsSummary `json:"summary"`
		Geometry string     `json:"geometry"`
	} `json:"routes"`
}

// ParseORS extracts the first route from an OpenRouteService directions
// response. GeoJSON responses carry coordinates ([lng, lat] pairs) that are
// re-encoded as a polyline; legacy responses carry an encoded geometry.
func ParseORS(body []byte) (*models.Route, error) {
	var resp orsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse directions response: %w", err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, fmt.Errorf("directions service error %s: %w", resp.Error, ErrNoRoute)
	}

	if len(resp.Features) == 0 {
		if len(resp.Routes) == 0 {
			return nil, ErrNoRoute
		}
		legacy := resp.Routes[0]
		return &models.Route{
			DistanceMeters:  legacy.Summary.Distance,
			DurationSeconds: legacy.Summary.Duration,
			Polyline:        legacy.Geometry,
		}, nil
	}

	feature := resp.Features[0]
	route := &models.Route{}
	summary := feature.Properties.Summary
	if summary == nil && len(feature.Properties.Segments) > 0 {
		summary = &feature.Properties.Segments[0]
	}
	if summary != nil {
		route.DistanceMeters = summary.Distance
		route.DurationSeconds = summary.Duration
	}

	polyline, err := geometryPolyline(feature.Geometry)
	if err != nil {
		return nil, err
	}
	route.Polyline = polyline
	return route, nil
}

func geometryPolyline(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		return encoded, nil
	}

	var geometry struct {
		Coordinates [][]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &geometry); err != nil {
		return "", fmt.Errorf("failed to parse route geometry: %w", err)
	}

	points := make([]models.Location, 0, len(geometry.Coordinates))
	for _, c := range geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		points = append(points, models.Location{Lat: c[1], Lng: c[0]})
	}
	return Encode(points), nil
}
