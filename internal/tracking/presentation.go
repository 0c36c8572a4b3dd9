package tracking

import (
	"fmt"

	"github.com/jogardn/delivery-tracker/pkg/models"
)

// ComputePresentationStep maps a status onto the six-step timeline
// (placed, accepted, preparing, rider assigned, picked up, delivered).
// READY_FOR_PICKUP and NO_RIDER_AVAILABLE share the preparing step.
func ComputePresentationStep(status models.Status) int {
	switch status {
	case models.StatusPlaced:
		return 0
	case models.StatusAccepted:
		return 1
	case models.StatusCooking, models.StatusReadyForPickup, models.StatusNoRiderAvailable:
		return 2
	case models.StatusAssignedToRider:
		return 3
	case models.StatusPickedUp:
		return 4
	case models.StatusDelivered:
		return 5
	default:
		return 0
	}
}

// BuildMarkers returns the map markers for an order and the rider position.
func BuildMarkers(order *models.Order, rider *models.Location) []models.Marker {
	var markers []models.Marker
	if order != nil {
		if order.PickupLocation != nil {
			markers = append(markers, models.Marker{Kind: models.MarkerPickup, Location: *order.PickupLocation})
		}
		if order.DropLocation != nil {
			markers = append(markers, models.Marker{Kind: models.MarkerDrop, Location: *order.DropLocation})
		}
		if rider == nil {
			rider = order.RiderLocation
		}
	}
	if rider != nil {
		markers = append(markers, models.Marker{Kind: models.MarkerRider, Location: *rider})
	}
	return markers
}

// routeEndpoints picks the leg to draw: rider to pickup until the order is
// picked up, rider to drop afterwards. Without a rider position the whole
// pickup to drop leg is shown.
func routeEndpoints(order *models.Order, rider *models.Location) (models.Location, models.Location, bool) {
	if order == nil || order.Status.IsTerminal() {
		return models.Location{}, models.Location{}, false
	}
	if rider == nil {
		rider = order.RiderLocation
	}

	target := order.PickupLocation
	if order.Status == models.StatusPickedUp {
		target = order.DropLocation
	}

	switch {
	case rider != nil && target != nil:
		return *rider, *target, true
	case order.PickupLocation != nil && order.DropLocation != nil:
		return *order.PickupLocation, *order.DropLocation, true
	}
	return models.Location{}, models.Location{}, false
}

// legKey identifies a leg at roughly ten metre resolution.
func legKey(from, to models.Location) string {
	return fmt.Sprintf("%.4f,%.4f>%.4f,%.4f", from.Lat, from.Lng, to.Lat, to.Lng)
}
