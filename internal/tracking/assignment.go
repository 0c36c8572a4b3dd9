package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/delivery-tracker/internal/journal"
	"github.com/jogardn/delivery-tracker/internal/metrics"
	"github.com/jogardn/delivery-tracker/internal/orders"
	"github.com/jogardn/delivery-tracker/internal/session"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

// offerAssignment shows a new offer and restarts the accept countdown. A
// newer offer always replaces the previous one. Loop only.
func (c *Coordinator) offerAssignment(request *models.AssignmentRequest) {
	c.stopCountdown()

	ticks := int(c.config.AcceptWindow / c.config.CountdownTick)
	if ticks < 1 {
		ticks = 1
	}
	c.countdownTicks = ticks
	seconds := c.countdownSeconds()
	request.ExpiresAt = time.Now().Add(c.config.AcceptWindow)

	c.store.Update(func(s *session.State) {
		s.IncomingRequest = request
		s.CountdownSecondsRemaining = seconds
	})
	c.countdown = c.every(c.config.CountdownTick, c.tickCountdown)

	metrics.AssignmentsTotal.WithLabelValues("offered").Inc()
	c.logger.WithFields(logrus.Fields{
		"assignment_id": request.ID,
		"order_id":      request.OrderID,
		"seconds":       seconds,
	}).Info("Assignment offered")
	c.record(journal.KindAssignmentOffered, func(e *journal.Entry) {
		e.OrderID = request.OrderID
		e.AssignmentID = request.ID
	})
}

func (c *Coordinator) tickCountdown() {
	var expired *models.AssignmentRequest
	c.countdownTicks--
	seconds := c.countdownSeconds()
	c.store.Update(func(s *session.State) {
		if s.IncomingRequest == nil {
			return
		}
		s.CountdownSecondsRemaining = seconds
		if c.countdownTicks <= 0 {
			expired = s.IncomingRequest
			s.IncomingRequest = nil
			s.CountdownSecondsRemaining = 0
			s.Message = "Assignment request expired"
		}
	})
	if expired == nil {
		return
	}

	// The backend expires the offer on its own; nothing is sent.
	c.stopCountdown()
	metrics.AssignmentsTotal.WithLabelValues("expired").Inc()
	c.logger.WithField("assignment_id", expired.ID).Info("Assignment offer expired")
	c.record(journal.KindAssignmentExpired, func(e *journal.Entry) {
		e.OrderID = expired.OrderID
		e.AssignmentID = expired.ID
	})
}

// countdownSeconds is the time left on the offer in whole seconds, rounded
// up. Loop only.
func (c *Coordinator) countdownSeconds() int {
	if c.countdownTicks <= 0 {
		return 0
	}
	left := time.Duration(c.countdownTicks) * c.config.CountdownTick
	if left > c.config.AcceptWindow {
		left = c.config.AcceptWindow
	}
	return int((left + time.Second - 1) / time.Second)
}

// RespondToAssignment accepts or rejects the incoming offer. The offer is
// cleared and the countdown stopped before the backend answers; the outcome
// arrives later through the state.
func (c *Coordinator) RespondToAssignment(ctx context.Context, accept bool) error {
	if !c.isRider() {
		return ErrNotRider
	}

	var request *models.AssignmentRequest
	if err := c.call(ctx, func() {
		request = c.store.Snapshot().IncomingRequest
		if request != nil {
			c.withdraw(request.ID)
			c.respondAsync(request, accept)
		}
	}); err != nil {
		return err
	}
	if request == nil {
		return ErrNoIncomingRequest
	}
	return nil
}

// RespondToRequest answers an entry of the pending requests list.
func (c *Coordinator) RespondToRequest(ctx context.Context, assignmentID string, accept bool) error {
	if !c.isRider() {
		return ErrNotRider
	}

	var request *models.AssignmentRequest
	if err := c.call(ctx, func() {
		state := c.store.Snapshot()
		if state.IncomingRequest != nil && state.IncomingRequest.ID == assignmentID {
			request = state.IncomingRequest
		} else {
			for i := range state.Requests {
				if state.Requests[i].ID == assignmentID {
					request = &state.Requests[i]
					break
				}
			}
		}
		if request != nil {
			c.withdraw(request.ID)
			c.respondAsync(request, accept)
		}
	}); err != nil {
		return err
	}
	if request == nil {
		return ErrRequestNotFound
	}
	return nil
}

// withdraw removes an offer from the screen ahead of the backend answer.
// Loop only.
func (c *Coordinator) withdraw(assignmentID string) {
	c.store.Update(func(s *session.State) {
		if s.IncomingRequest != nil && s.IncomingRequest.ID == assignmentID {
			c.stopCountdown()
			s.IncomingRequest = nil
			s.CountdownSecondsRemaining = 0
		}
		kept := s.Requests[:0]
		for _, r := range s.Requests {
			if r.ID != assignmentID {
				kept = append(kept, r)
			}
		}
		s.Requests = kept
	})
}

func (c *Coordinator) respondAsync(request *models.AssignmentRequest, accept bool) {
	c.goAsync(func(ctx context.Context) {
		resp, err := c.orders.RespondToAssignment(ctx, request.ID, accept)
		c.post(func() {
			c.applyResponse(request, accept, resp, err)
		})
	})
}

func (c *Coordinator) applyResponse(request *models.AssignmentRequest, accept bool, resp *models.AssignmentResponse, err error) {
	log := c.logger.WithFields(logrus.Fields{
		"assignment_id": request.ID,
		"order_id":      request.OrderID,
		"accepted":      accept,
	})

	if err != nil {
		message := "Could not respond to the request, please try again"
		if errors.Is(err, orders.ErrAssignmentConflict) {
			message = "Order already taken or expired"
		}
		c.noteFailure("respond", err)
		c.store.Update(func(s *session.State) { s.Message = message })

		metrics.AssignmentsTotal.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("Assignment response failed")
		c.record(journal.KindAssignmentFailed, func(e *journal.Entry) {
			e.OrderID = request.OrderID
			e.AssignmentID = request.ID
			e.Detail = err.Error()
		})
		c.fetchRequestsAsync()
		return
	}

	if accept {
		metrics.AssignmentsTotal.WithLabelValues("accepted").Inc()
		log.Info("Assignment accepted")
		c.record(journal.KindAssignmentAccepted, func(e *journal.Entry) {
			e.OrderID = request.OrderID
			e.AssignmentID = request.ID
		})
		c.store.Update(func(s *session.State) { s.Message = "Order accepted" })

		if resp != nil && resp.Order != nil && resp.Order.ID != "" {
			c.orderVersion++
			c.adoptOrder(resp.Order)
		} else {
			c.refreshAsync("accepted")
		}
	} else {
		metrics.AssignmentsTotal.WithLabelValues("rejected").Inc()
		log.Info("Assignment rejected")
		c.record(journal.KindAssignmentRejected, func(e *journal.Entry) {
			e.OrderID = request.OrderID
			e.AssignmentID = request.ID
		})
		c.store.Update(func(s *session.State) { s.Message = "Order rejected" })
	}
	c.fetchRequestsAsync()
}

// FetchRequests reloads the pending assignment list.
func (c *Coordinator) FetchRequests(ctx context.Context) error {
	if !c.isRider() {
		return ErrNotRider
	}
	requests, err := c.orders.PendingRequests(ctx)
	if callErr := c.call(ctx, func() {
		if err != nil {
			c.noteFailure("requests", err)
			return
		}
		c.setRequests(requests)
	}); callErr != nil {
		return callErr
	}
	return err
}

func (c *Coordinator) fetchRequestsAsync() {
	c.goAsync(func(ctx context.Context) {
		requests, err := c.orders.PendingRequests(ctx)
		c.post(func() {
			if err != nil {
				c.noteFailure("requests", err)
				return
			}
			c.setRequests(requests)
		})
	})
}

func (c *Coordinator) setRequests(requests []models.AssignmentRequest) {
	c.store.Update(func(s *session.State) {
		s.Requests = requests
	})
}
