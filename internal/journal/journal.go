package journal

import (
	"context"
	"time"

	"github.com/jogardn/delivery-tracker/pkg/models"
)

const Topic = "order.tracking"

type Kind string

const (
	KindOrderAdopted       Kind = "order_adopted"
	KindOrderUpdated       Kind = "order_updated"
	KindOrderCleared       Kind = "order_cleared"
	KindOrderEscalated     Kind = "order_escalated"
	KindAssignmentOffered  Kind = "assignment_offered"
	KindAssignmentExpired  Kind = "assignment_expired"
	KindAssignmentAccepted Kind = "assignment_accepted"
	KindAssignmentRejected Kind = "assignment_rejected"
	KindAssignmentFailed   Kind = "assignment_failed"
	KindRiderOnline        Kind = "rider_online"
	KindRiderOffline       Kind = "rider_offline"
)

// Entry is one coordinator transition.
type Entry struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"kind"`
	Role         models.Role   `json:"role"`
	UserID       string        `json:"user_id"`
	OrderID      string        `json:"order_id,omitempty"`
	AssignmentID string        `json:"assignment_id,omitempty"`
	Status       models.Status `json:"status,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	RecordedAt   time.Time     `json:"recorded_at"`
}

type Sink interface {
	Write(ctx context.Context, entry Entry) error
	Close() error
}

type NopSink struct{}

func (NopSink) Write(context.Context, Entry) error { return nil }
func (NopSink) Close() error                       { return nil }
