package tracking

import (
	"context"
	"encoding/json"

	"github.com/jogardn/delivery-tracker/internal/metrics"
	"github.com/jogardn/delivery-tracker/internal/realtime"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

// HandlePush applies one push channel event. Events are applied in the
// order they are handed in.
func (c *Coordinator) HandlePush(event realtime.Event) error {
	return c.call(context.Background(), func() {
		c.handlePush(event)
	})
}

func (c *Coordinator) handlePush(event realtime.Event) {
	metrics.PushEventsTotal.WithLabelValues(event.Type).Inc()
	log := c.logger.WithField("type", event.Type)

	switch event.Type {
	case realtime.EventAssignmentRequest:
		if !c.isRider() {
			log.Debug("Ignoring assignment request outside a rider session")
			return
		}
		var request models.AssignmentRequest
		if err := json.Unmarshal(event.Data, &request); err != nil || request.ID == "" {
			log.WithError(err).Warn("Malformed assignment request")
			return
		}
		c.offerAssignment(&request)

	case realtime.EventOrderUpdate:
		var update models.OrderUpdate
		if err := json.Unmarshal(event.Data, &update); err != nil {
			log.WithError(err).Warn("Malformed order update")
			return
		}
		c.applyOrderUpdate(update)

	case realtime.EventOrderEscalated:
		var escalation models.OrderEscalation
		if len(event.Data) > 0 {
			if err := json.Unmarshal(event.Data, &escalation); err != nil {
				log.WithError(err).Warn("Malformed escalation")
				return
			}
		}
		c.applyEscalation(escalation)

	case realtime.EventReconnected:
		// Events may have been missed while disconnected.
		c.refreshAsync("reconnect")
		if c.online {
			c.fetchRequestsAsync()
		}

	default:
		log.WithFields(logrus.Fields{"source": event.Source}).Debug("Ignoring unknown push event")
	}
}
