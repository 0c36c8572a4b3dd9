package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssignmentRequest is an offer from dispatch to a rider. Offers pushed over
// the socket carry flat pickup coordinates; the pending list nests them.
type AssignmentRequest struct {
	ID             string          `json:"assignmentId"`
	OrderID        string          `json:"orderId"`
	RestaurantName string          `json:"restaurantName,omitempty"`
	PickupLat      float64         `json:"pickupLat,omitempty"`
	PickupLng      float64         `json:"pickupLng,omitempty"`
	PickupLocation *Location       `json:"pickupLocation,omitempty"`
	DropSummary    string          `json:"dropSummary,omitempty"`
	Earnings       decimal.Decimal `json:"earnings"`
	DistanceKm     float64         `json:"distanceKm,omitempty"`
	EtaMinutes     int             `json:"eta,omitempty"`
	Surge          bool            `json:"surge,omitempty"`
	ExpiresAt      time.Time       `json:"expiresAt,omitempty"`
}

func (a *AssignmentRequest) Pickup() Location {
	if a.PickupLocation != nil {
		return *a.PickupLocation
	}
	return Location{Lat: a.PickupLat, Lng: a.PickupLng}
}

func (a *AssignmentRequest) Clone() *AssignmentRequest {
	if a == nil {
		return nil
	}
	c := *a
	c.PickupLocation = a.PickupLocation.Clone()
	return &c
}

type AssignmentResponse struct {
	Status string `json:"status"`
	Order  *Order `json:"order,omitempty"`
}

type RiderProfile struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}
