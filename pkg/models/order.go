package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPendingPayment   Status = "PENDING_PAYMENT"
	StatusPlaced           Status = "PLACED"
	StatusAccepted         Status = "ACCEPTED"
	StatusCooking          Status = "COOKING"
	StatusReadyForPickup   Status = "READY_FOR_PICKUP"
	StatusAssignedToRider  Status = "ASSIGNED_TO_RIDER"
	StatusPickedUp         Status = "PICKED_UP"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
	StatusNoRiderAvailable Status = "NO_RIDER_AVAILABLE"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPendingPayment, StatusPlaced, StatusAccepted, StatusCooking,
		StatusReadyForPickup, StatusAssignedToRider, StatusPickedUp,
		StatusDelivered, StatusCancelled, StatusNoRiderAvailable:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether an order in this status is no longer active.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type Order struct {
	ID                    string          `json:"orderId"`
	Status                Status          `json:"status"`
	RestaurantID          string          `json:"restaurantId,omitempty"`
	RestaurantName        string          `json:"restaurantName,omitempty"`
	CustomerID            string          `json:"customerId,omitempty"`
	DeliveryPartnerID     string          `json:"deliveryPartnerId,omitempty"`
	PickupLocation        *Location       `json:"pickupLocation,omitempty"`
	DropLocation          *Location       `json:"dropLocation,omitempty"`
	RiderLocation         *Location       `json:"riderLocation,omitempty"`
	EstimatedDeliveryTime *time.Time      `json:"estimatedDeliveryTime,omitempty"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
}

// Clone returns a deep copy so snapshots never share pointers with live state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.PickupLocation = o.PickupLocation.Clone()
	c.DropLocation = o.DropLocation.Clone()
	c.RiderLocation = o.RiderLocation.Clone()
	if o.EstimatedDeliveryTime != nil {
		eta := *o.EstimatedDeliveryTime
		c.EstimatedDeliveryTime = &eta
	}
	return &c
}

func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// OrderUpdate is the payload of an order_update push event.
type OrderUpdate struct {
	OrderID               string     `json:"orderId"`
	Status                Status     `json:"status"`
	RiderLocation         *Location  `json:"riderLocation,omitempty"`
	EstimatedDeliveryTime *time.Time `json:"estimatedDeliveryTime,omitempty"`
}

// OrderEscalation is the payload of an order_escalated push event.
type OrderEscalation struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
