package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

var referencePoints = []models.Location{
	{Lat: 38.5, Lng: -120.2},
	{Lat: 40.7, Lng: -120.95},
	{Lat: 43.252, Lng: -126.453},
}

const referencePolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

func TestEncodeReference(t *testing.T) {
	if got := Encode(referencePoints); got != referencePolyline {
		t.Errorf("Expected %s, got %s", referencePolyline, got)
	}
	if got := Encode(nil); got != "" {
		t.Errorf("Expected empty polyline, got %q", got)
	}
}

func TestDecodeReference(t *testing.T) {
	points, err := Decode(referencePolyline)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(points) != len(referencePoints) {
		t.Fatalf("Expected %d points, got %d", len(referencePoints), len(points))
	}
	for i, p := range points {
		if p.Lat != referencePoints[i].Lat || p.Lng != referencePoints[i].Lng {
			t.Errorf("Point %d: expected %v, got %v", i, referencePoints[i], p)
		}
	}

	if _, err := Decode("_p~iF~ps|"); !errors.Is(err, ErrInvalidPolyline) {
		t.Errorf("Expected ErrInvalidPolyline for truncated input, got %v", err)
	}
}

func TestParseORSGeoJSON(t *testing.T) {
	body := []byte(`{"features":[{"geometry":{"coordinates":[[-120.2,38.5],[-120.95,40.7],[-126.453,43.252]]},
		"properties":{"summary":{"distance":1234.5,"duration":321}}}]}`)

	route, err := ParseORS(body)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if route.DistanceMeters != 1234.5 || route.DurationSeconds != 321 {
		t.Errorf("Unexpected summary %+v", route)
	}
	if route.Polyline != referencePolyline {
		t.Errorf("Expected coordinates to be encoded lat-first, got %s", route.Polyline)
	}
}

func TestParseORSSegmentsAndLegacy(t *testing.T) {
	segments := []byte(`{"features":[{"geometry":"abc","properties":{"segments":[{"distance":10,"duration":2}]}}]}`)
	route, err := ParseORS(segments)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if route.DistanceMeters != 10 || route.Polyline != "abc" {
		t.Errorf("Unexpected segment route %+v", route)
	}

	legacy := []byte(`{"routes":[{"summary":{"distance":99,"duration":7},"geometry":"xyz"}]}`)
	route, err = ParseORS(legacy)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if route.DistanceMeters != 99 || route.DurationSeconds != 7 || route.Polyline != "xyz" {
		t.Errorf("Unexpected legacy route %+v", route)
	}

	if _, err := ParseORS([]byte(`{"error":{"code":2010}}`)); !errors.Is(err, ErrNoRoute) {
		t.Errorf("Expected ErrNoRoute for an error body, got %v", err)
	}
	if _, err := ParseORS([]byte(`{}`)); !errors.Is(err, ErrNoRoute) {
		t.Errorf("Expected ErrNoRoute for an empty body, got %v", err)
	}
}

func TestClientUsesBackendProxy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/navigation/route" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("fromLat") != "12.500000" || r.URL.Query().Get("toLng") != "77.000000" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"success":true,"data":{"distanceMeters":500,"durationSeconds":60,"polyline":"abc"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BackendURL: server.URL, Token: "tok"}, nil, testLogger())
	route, err := client.Route(context.Background(), models.Location{Lat: 12.5, Lng: 77.5}, models.Location{Lat: 12.9, Lng: 77})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if route.Polyline != "abc" || route.DistanceMeters != 500 {
		t.Errorf("Unexpected route %+v", route)
	}
}

func TestClientUsesORSWhenKeyed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/directions/driving-car" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("start") != "77.500000,12.500000" {
			t.Errorf("Expected lng,lat start, got %s", r.URL.Query().Get("start"))
		}
		if r.Header.Get("Authorization") != "ors-key" {
			t.Errorf("Expected api key header, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"routes":[{"summary":{"distance":1,"duration":1},"geometry":"q"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{ORSKey: "ors-key", ORSURL: server.URL}, nil, testLogger())
	route, err := client.Route(context.Background(), models.Location{Lat: 12.5, Lng: 77.5}, models.Location{Lat: 13, Lng: 78})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if route.Polyline != "q" {
		t.Errorf("Unexpected route %+v", route)
	}
}

func TestClientReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BackendURL: server.URL}, nil, testLogger())
	if _, err := client.Route(context.Background(), models.Location{}, models.Location{}); err == nil {
		t.Error("Expected an error for a 502 response")
	}
}
