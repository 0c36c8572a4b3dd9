package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jogardn/delivery-tracker/internal/circuitbreaker"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

const DefaultORSURL = "https://api.openrouteservice.org"

type Config struct {
	BackendURL string
	Token      string
	// ORSKey switches the client to OpenRouteService directly.
	ORSKey string
	ORSURL string
}

// Client looks up driving routes, through the backend navigation proxy or
// straight from OpenRouteService.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewClient(config Config, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *Client {
	if config.ORSURL == "" {
		config.ORSURL = DefaultORSURL
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		breaker: breaker,
		logger:  logger,
	}
}

func (c *Client) Route(ctx context.Context, from, to models.Location) (*models.Route, error) {
	var route *models.Route
	call := func(ctx context.Context) error {
		var err error
		if c.config.ORSKey != "" {
			route, err = c.fromORS(ctx, from, to)
		} else {
			route, err = c.fromBackend(ctx, from, to)
		}
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up route: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"distance_m": route.DistanceMeters,
		"duration_s": route.DurationSeconds,
	}).Debug("Route resolved")
	return route, nil
}

func (c *Client) fromBackend(ctx context.Context, from, to models.Location) (*models.Route, error) {
	query := url.Values{}
	query.Set("fromLat", formatCoord(from.Lat))
	query.Set("fromLng", formatCoord(from.Lng))
	query.Set("toLat", formatCoord(to.Lat))
	query.Set("toLng", formatCoord(to.Lng))

	body, err := c.get(ctx, c.config.BackendURL+"/api/v1/navigation/route?"+query.Encode(), "Bearer "+c.config.Token)
	if err != nil {
		return nil, err
	}

	var env struct {
		Success bool          `json:"success"`
		Data    *models.Route `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode navigation response: %w", err)
	}
	if env.Data == nil {
		return nil, ErrNoRoute
	}
	return env.Data, nil
}

func (c *Client) fromORS(ctx context.Context, from, to models.Location) (*models.Route, error) {
	// ORS takes lng,lat pairs.
	query := url.Values{}
	query.Set("start", formatCoord(from.Lng)+","+formatCoord(from.Lat))
	query.Set("end", formatCoord(to.Lng)+","+formatCoord(to.Lat))

	body, err := c.get(ctx, c.config.ORSURL+"/v2/directions/driving-car?"+query.Encode(), c.config.ORSKey)
	if err != nil {
		return nil, err
	}
	return ParseORS(body)
}

func (c *Client) get(ctx context.Context, target, authorization string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authorization != "" && authorization != "Bearer " {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach route service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read route response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("route service returned status %d", resp.StatusCode)
	}
	return body, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
