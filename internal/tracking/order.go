package tracking

import (
	"context"

	"github.com/jogardn/delivery-tracker/internal/journal"
	"github.com/jogardn/delivery-tracker/internal/metrics"
	"github.com/jogardn/delivery-tracker/internal/session"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

const defaultEscalationMessage = "No rider available yet. We are escalating your order."

// Refresh reconciles the current order with the backend. On failure the
// state is left as it was and the error is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.refresh(ctx, "manual")
}

func (c *Coordinator) refresh(ctx context.Context, trigger string) error {
	var seq, version uint64
	if err := c.call(ctx, func() {
		c.refreshSeq++
		seq, version = c.refreshSeq, c.orderVersion
	}); err != nil {
		return err
	}
	metrics.RefreshesTotal.WithLabelValues(trigger).Inc()

	active, fetchErr := c.orders.ActiveOrders(ctx)
	if err := c.call(ctx, func() {
		if fetchErr != nil {
			c.noteFailure("refresh", fetchErr)
			return
		}
		c.applyActiveOrders(seq, version, active)
	}); err != nil {
		return err
	}
	return fetchErr
}

// refreshAsync starts a reconciliation without waiting for it. Loop only.
func (c *Coordinator) refreshAsync(trigger string) {
	c.refreshSeq++
	seq, version := c.refreshSeq, c.orderVersion
	metrics.RefreshesTotal.WithLabelValues(trigger).Inc()

	c.goAsync(func(ctx context.Context) {
		active, err := c.orders.ActiveOrders(ctx)
		c.post(func() {
			if err != nil {
				c.noteFailure("refresh", err)
				return
			}
			c.applyActiveOrders(seq, version, active)
		})
	})
}

// applyActiveOrders applies a fetched order list unless a newer refresh was
// applied or the order changed while the fetch was in flight. Loop only.
func (c *Coordinator) applyActiveOrders(seq, version uint64, active []models.Order) {
	if seq < c.appliedRefreshSeq {
		c.logger.WithField("seq", seq).Debug("Dropping superseded refresh result")
		return
	}
	if version != c.orderVersion {
		c.logger.WithField("seq", seq).Debug("Dropping refresh result fetched before a newer order change")
		return
	}
	c.appliedRefreshSeq = seq

	if len(active) == 0 {
		c.clearOrder("")
		return
	}
	c.adoptOrder(&active[0])
}

// adoptOrder makes order the tracked order. Loop only.
func (c *Coordinator) adoptOrder(order *models.Order) {
	order = order.Clone()
	prev := c.store.Snapshot().CurrentOrder

	sameOrder := prev != nil && prev.ID == order.ID
	changed := !sameOrder || prev.Status != order.Status

	c.store.Update(func(s *session.State) {
		if sameOrder && order.RiderLocation == nil {
			order.RiderLocation = prev.RiderLocation.Clone()
		}
		s.CurrentOrder = order
		s.View = session.ViewActive
		s.Step = ComputePresentationStep(order.Status)
		if changed {
			s.EscalationVisible = order.Status == models.StatusNoRiderAvailable
		}
		if !c.isRider() && order.RiderLocation != nil {
			s.RiderLocation = order.RiderLocation.Clone()
		}
	})
	metrics.ActiveOrder.Set(1)

	if changed {
		c.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Info("Tracking order")
		c.record(journal.KindOrderAdopted, func(e *journal.Entry) {
			e.OrderID = order.ID
			e.Status = order.Status
		})
	}
	c.refreshMap()
}

// clearOrder drops the tracked order and returns to idle. Loop only.
func (c *Coordinator) clearOrder(message string) {
	prev := c.store.Snapshot().CurrentOrder

	c.routeSeq++
	c.routeKey = ""
	c.store.Update(func(s *session.State) {
		s.CurrentOrder = nil
		s.View = session.ViewIdle
		s.Step = 0
		s.EscalationVisible = false
		s.Route = nil
		if !c.isRider() {
			s.RiderLocation = nil
		}
		if message != "" {
			s.Message = message
		}
	})
	metrics.ActiveOrder.Set(0)

	if prev != nil {
		c.logger.WithFields(logrus.Fields{
			"order_id": prev.ID,
			"status":   prev.Status,
		}).Info("Stopped tracking order")
		c.record(journal.KindOrderCleared, func(e *journal.Entry) {
			e.OrderID = prev.ID
			e.Status = prev.Status
			e.Detail = message
		})
	}
	c.refreshMap()
}

// applyOrderUpdate merges a pushed status change. Loop only.
func (c *Coordinator) applyOrderUpdate(update models.OrderUpdate) {
	c.orderVersion++
	current := c.store.Snapshot().CurrentOrder
	matches := current != nil && (update.OrderID == "" || update.OrderID == current.ID)

	if update.Status.IsTerminal() {
		if current == nil || matches {
			c.clearOrder(terminalMessage(update.Status))
			return
		}
		// A different order finished. Ours is kept and checked against
		// the backend rather than dropped.
		c.refreshAsync("order_update")
		return
	}

	if !matches {
		c.logger.WithField("order_id", update.OrderID).Debug("Update for an untracked order, reconciling")
		c.refreshAsync("order_update")
		return
	}

	status := current.Status
	statusSet := false
	if update.Status != "" {
		if !update.Status.IsValid() {
			c.logger.WithField("status", update.Status).Warn("Ignoring unknown order status")
		} else {
			status = update.Status
			statusSet = true
		}
	}

	c.store.Update(func(s *session.State) {
		order := s.CurrentOrder
		order.Status = status
		if update.RiderLocation != nil {
			order.RiderLocation = update.RiderLocation.Clone()
			if !c.isRider() {
				s.RiderLocation = update.RiderLocation.Clone()
			}
		}
		if update.EstimatedDeliveryTime != nil {
			eta := *update.EstimatedDeliveryTime
			order.EstimatedDeliveryTime = &eta
		}
		s.Step = ComputePresentationStep(status)
		// Location-only updates leave the notice as it is.
		if statusSet {
			s.EscalationVisible = status == models.StatusNoRiderAvailable
			if s.EscalationVisible {
				s.Message = defaultEscalationMessage
			}
		}
	})

	if status != current.Status {
		c.logger.WithFields(logrus.Fields{
			"order_id": current.ID,
			"from":     current.Status,
			"to":       status,
		}).Info("Order status changed")
		c.record(journal.KindOrderUpdated, func(e *journal.Entry) {
			e.OrderID = current.ID
			e.Status = status
		})
	}
	c.refreshMap()
}

// applyEscalation shows the escalation notice for the tracked order. Loop
// only.
func (c *Coordinator) applyEscalation(escalation models.OrderEscalation) {
	current := c.store.Snapshot().CurrentOrder
	if current == nil {
		c.refreshAsync("order_escalated")
		return
	}
	if escalation.OrderID != "" && escalation.OrderID != current.ID {
		c.logger.WithField("order_id", escalation.OrderID).Debug("Escalation for an untracked order")
		return
	}

	message := escalation.Reason
	if message == "" {
		message = defaultEscalationMessage
	}
	c.orderVersion++
	c.store.Update(func(s *session.State) {
		s.EscalationVisible = true
		s.Message = message
	})
	c.record(journal.KindOrderEscalated, func(e *journal.Entry) {
		e.OrderID = current.ID
		e.Status = current.Status
		e.Detail = message
	})
}

func terminalMessage(status models.Status) string {
	if status == models.StatusCancelled {
		return "Order cancelled"
	}
	return "Order delivered"
}

// refreshMap recomputes markers, renders them and looks up a new route when
// the leg has moved. Loop only.
func (c *Coordinator) refreshMap() {
	state := c.store.Snapshot()
	markers := BuildMarkers(state.CurrentOrder, state.RiderLocation)
	from, to, hasLeg := routeEndpoints(state.CurrentOrder, state.RiderLocation)

	route := state.Route
	if !hasLeg {
		route = nil
		c.routeKey = ""
	}
	c.store.Update(func(s *session.State) {
		s.Markers = markers
		s.Route = route
	})
	c.render(markers, route)

	if !hasLeg || c.routes == nil {
		return
	}
	key := legKey(from, to)
	if key == c.routeKey {
		return
	}
	c.routeKey = key
	c.routeSeq++
	seq := c.routeSeq

	c.goAsync(func(ctx context.Context) {
		found, err := c.routes.Route(ctx, from, to)
		c.post(func() {
			if seq != c.routeSeq {
				return
			}
			if err != nil {
				c.routeKey = ""
				c.noteFailure("route", err)
				return
			}
			state := c.store.Update(func(s *session.State) { s.Route = found })
			c.render(state.Markers, state.Route)
		})
	})
}

func (c *Coordinator) render(markers []models.Marker, route *models.Route) {
	if c.renderer != nil {
		c.renderer.RenderMap(markers, route)
	}
}
