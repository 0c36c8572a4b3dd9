package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/jogardn/delivery-tracker/internal/geo"
	"github.com/jogardn/delivery-tracker/internal/journal"
	"github.com/jogardn/delivery-tracker/internal/metrics"
	"github.com/jogardn/delivery-tracker/internal/realtime"
	"github.com/jogardn/delivery-tracker/internal/session"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

type locationPayload struct {
	UserID string  `json:"userId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// GoOnline makes the rider available for assignments. The device position
// is required; without it the rider stays offline.
func (c *Coordinator) GoOnline(ctx context.Context) error {
	if !c.isRider() {
		return ErrNotRider
	}

	location, err := c.currentLocation(ctx)
	if err != nil {
		if errors.Is(err, geo.ErrLocationDenied) {
			c.call(ctx, func() {
				c.store.Update(func(s *session.State) {
					s.Message = "Location access is required to go online"
				})
			})
		}
		return fmt.Errorf("cannot go online: %w", err)
	}

	if err := c.orders.GoOnline(ctx, location.Lat, location.Lng); err != nil {
		c.fail(ctx, "go_online", err)
		return err
	}

	return c.call(ctx, func() {
		c.setOnline(true)
		c.updateLocation(location)
		c.fetchRequestsAsync()
	})
}

func (c *Coordinator) GoOffline(ctx context.Context) error {
	if !c.isRider() {
		return ErrNotRider
	}
	if err := c.orders.GoOffline(ctx); err != nil {
		c.fail(ctx, "go_offline", err)
		return err
	}
	return c.call(ctx, func() {
		c.setOnline(false)
	})
}

// setOnline starts or stops the location ping. Going offline also drops a
// pending offer. Loop only.
func (c *Coordinator) setOnline(online bool) {
	if c.online == online {
		return
	}
	c.online = online
	metrics.RiderOnline.Set(metrics.Flag(online))

	if online {
		c.locationPing = c.every(c.config.LocationInterval, c.pingLocation)
	} else {
		c.stopLocationPing()
		c.stopCountdown()
	}

	c.store.Update(func(s *session.State) {
		s.Online = online
		if !online {
			s.IncomingRequest = nil
			s.CountdownSecondsRemaining = 0
		}
	})

	kind := journal.KindRiderOffline
	if online {
		kind = journal.KindRiderOnline
	}
	c.logger.WithField("online", online).Info("Rider availability changed")
	c.record(kind, nil)
}

func (c *Coordinator) pingLocation() {
	c.goAsync(func(ctx context.Context) {
		location, err := c.currentLocation(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to read device position")
			return
		}
		c.post(func() {
			if c.online {
				c.updateLocation(location)
			}
		})
	})
}

// UpdateLocation records a new rider position, shares it over the push
// channel and redraws the map.
func (c *Coordinator) UpdateLocation(lat, lng float64) error {
	return c.call(context.Background(), func() {
		c.updateLocation(models.Location{Lat: lat, Lng: lng})
	})
}

func (c *Coordinator) updateLocation(location models.Location) {
	if c.isRider() && c.userID != "" {
		payload := locationPayload{UserID: c.userID, Lat: location.Lat, Lng: location.Lng}
		if err := c.channel.Emit(realtime.EventUpdateLocation, payload); err != nil {
			c.logger.WithError(err).Warn("Failed to share location")
		} else {
			metrics.LocationPingsTotal.Inc()
		}
	}

	c.store.Update(func(s *session.State) {
		s.RiderLocation = &location
	})
	c.refreshMap()
}

func (c *Coordinator) MarkPickedUp(ctx context.Context) error {
	order, err := c.riderOrder()
	if err != nil {
		return err
	}
	if err := c.orders.MarkPickedUp(ctx, order.ID); err != nil {
		c.fail(ctx, "picked_up", err)
		return err
	}

	return c.call(ctx, func() {
		current := c.store.Snapshot().CurrentOrder
		if current == nil || current.ID != order.ID {
			return
		}
		c.orderVersion++
		c.store.Update(func(s *session.State) {
			s.CurrentOrder.Status = models.StatusPickedUp
			s.Step = ComputePresentationStep(models.StatusPickedUp)
			s.Message = "Order picked up"
		})
		c.logger.WithField("order_id", order.ID).Info("Order picked up")
		c.record(journal.KindOrderUpdated, func(e *journal.Entry) {
			e.OrderID = order.ID
			e.Status = models.StatusPickedUp
		})
		c.refreshMap()
	})
}

func (c *Coordinator) MarkDelivered(ctx context.Context) error {
	order, err := c.riderOrder()
	if err != nil {
		return err
	}
	if err := c.orders.MarkDelivered(ctx, order.ID); err != nil {
		c.fail(ctx, "delivered", err)
		return err
	}

	return c.call(ctx, func() {
		current := c.store.Snapshot().CurrentOrder
		if current == nil || current.ID != order.ID {
			return
		}
		c.orderVersion++
		c.clearOrder("Order delivered")
		c.logger.WithFields(logrus.Fields{"order_id": order.ID}).Info("Order delivered")
	})
}

func (c *Coordinator) riderOrder() (*models.Order, error) {
	if !c.isRider() {
		return nil, ErrNotRider
	}
	order := c.store.Snapshot().CurrentOrder
	if order == nil {
		return nil, ErrNoActiveOrder
	}
	return order, nil
}

func (c *Coordinator) currentLocation(ctx context.Context) (models.Location, error) {
	if c.locator == nil {
		return models.Location{}, geo.ErrLocationDenied
	}
	return c.locator.CurrentLocation(ctx)
}
