package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jogardn/delivery-tracker/internal/circuitbreaker"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

// Breaker groups. Order reads and assignment writes fail independently.
const (
	breakerOrders      = "orders"
	breakerAssignments = "assignments"
	breakerRider       = "rider-status"
)

type OrderServiceClient struct {
	baseURL    string
	token      string
	role       models.Role
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	logger     *logrus.Logger
}

func NewOrderServiceClient(baseURL, token string, role models.Role, breakers *circuitbreaker.Manager, logger *logrus.Logger) *OrderServiceClient {
	return &OrderServiceClient{
		baseURL: baseURL,
		token:   token,
		role:    role,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breakers: breakers,
		logger:   logger,
	}
}

// ActiveOrders returns the orders that are not yet delivered or cancelled for
// the current identity. Riders and customers use different endpoints.
func (c *OrderServiceClient) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	path := "/api/v1/orders/active"
	if c.role == models.RoleRider {
		path = "/api/v1/delivery/orders/active"
	}

	var orders []models.Order
	if err := c.do(ctx, breakerOrders, http.MethodGet, path, nil, &orders); err != nil {
		return nil, fmt.Errorf("failed to fetch active orders: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"role":  c.role,
		"count": len(orders),
	}).Debug("Retrieved active orders")
	return orders, nil
}

func (c *OrderServiceClient) PendingRequests(ctx context.Context) ([]models.AssignmentRequest, error) {
	var requests []models.AssignmentRequest
	if err := c.do(ctx, breakerAssignments, http.MethodGet, "/api/v1/delivery/orders/requests", nil, &requests); err != nil {
		return nil, fmt.Errorf("failed to fetch assignment requests: %w", err)
	}
	return requests, nil
}

func (c *OrderServiceClient) RespondToAssignment(ctx context.Context, assignmentID string, accepted bool) (*models.AssignmentResponse, error) {
	c.logger.WithFields(logrus.Fields{
		"assignment_id": assignmentID,
		"accepted":      accepted,
	}).Info("Responding to assignment")

	var raw json.RawMessage
	body := map[string]bool{"accepted": accepted}
	path := "/api/v1/delivery/orders/requests/" + assignmentID + "/respond"
	if err := c.do(ctx, breakerAssignments, http.MethodPost, path, body, &raw); err != nil {
		return nil, fmt.Errorf("failed to respond to assignment %s: %w", assignmentID, err)
	}

	resp := &models.AssignmentResponse{}
	if len(raw) == 0 || string(raw) == "null" {
		return resp, nil
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, fmt.Errorf("failed to decode assignment response: %w", err)
	}
	if resp.Order == nil {
		// Some backends return the order snapshot itself as data.
		var order models.Order
		if err := json.Unmarshal(raw, &order); err == nil && order.ID != "" {
			resp.Order = &order
		}
	}
	return resp, nil
}

func (c *OrderServiceClient) Profile(ctx context.Context) (*models.RiderProfile, error) {
	var profile models.RiderProfile
	if err := c.do(ctx, breakerRider, http.MethodGet, "/api/v1/delivery-partners/profile", nil, &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch rider profile: %w", err)
	}
	return &profile, nil
}

func (c *OrderServiceClient) GoOnline(ctx context.Context, lat, lng float64) error {
	body := map[string]float64{"latitude": lat, "longitude": lng}
	if err := c.do(ctx, breakerRider, http.MethodPatch, "/api/v1/delivery-partners/status/online", body, nil); err != nil {
		return fmt.Errorf("failed to go online: %w", err)
	}
	return nil
}

func (c *OrderServiceClient) GoOffline(ctx context.Context) error {
	if err := c.do(ctx, breakerRider, http.MethodPatch, "/api/v1/delivery-partners/status/offline", struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to go offline: %w", err)
	}
	return nil
}

func (c *OrderServiceClient) MarkPickedUp(ctx context.Context, orderID string) error {
	path := "/api/v1/delivery/orders/" + orderID + "/picked-up"
	if err := c.do(ctx, breakerAssignments, http.MethodPatch, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to mark order %s picked up: %w", orderID, err)
	}
	return nil
}

func (c *OrderServiceClient) MarkDelivered(ctx context.Context, orderID string) error {
	path := "/api/v1/delivery/orders/" + orderID + "/delivered"
	if err := c.do(ctx, breakerAssignments, http.MethodPatch, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to mark order %s delivered: %w", orderID, err)
	}
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (c *OrderServiceClient) do(ctx context.Context, group, method, path string, body, out interface{}) error {
	call := func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, body, out)
	}
	if c.breakers == nil {
		return call(ctx)
	}
	return c.breakers.Breaker(group).Execute(ctx, call)
}

func (c *OrderServiceClient) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to order service: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
			"code":   env.Code,
		}).Warn("Order service returned error status")
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if decodeErr != nil && decodeErr != io.EOF {
		return fmt.Errorf("failed to decode order service response: %w", decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode order service data: %w", err)
	}
	return nil
}
