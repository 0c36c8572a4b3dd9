package session

import (
	"sync"
	"time"

	"github.com/jogardn/delivery-tracker/pkg/models"
)

type View string

const (
	ViewIdle   View = "idle"
	ViewActive View = "active"
)

// State is the client-local projection of one customer or rider session.
type State struct {
	Role   models.Role `json:"role"`
	UserID string      `json:"userId"`
	View   View        `json:"view"`

	CurrentOrder              *models.Order              `json:"currentOrder"`
	RiderLocation             *models.Location           `json:"riderLocation"`
	IncomingRequest           *models.AssignmentRequest  `json:"incomingRequest"`
	CountdownSecondsRemaining int                        `json:"countdownSecondsRemaining"`
	Requests                  []models.AssignmentRequest `json:"requests"`
	Online                    bool                       `json:"online"`

	Step              int             `json:"step"`
	EscalationVisible bool            `json:"escalationVisible"`
	Markers           []models.Marker `json:"markers"`
	Route             *models.Route   `json:"route"`

	Message        string    `json:"message,omitempty"`
	SessionExpired bool      `json:"sessionExpired"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (s State) Clone() State {
	c := s
	c.CurrentOrder = s.CurrentOrder.Clone()
	c.RiderLocation = s.RiderLocation.Clone()
	c.IncomingRequest = s.IncomingRequest.Clone()
	if s.Requests != nil {
		c.Requests = make([]models.AssignmentRequest, len(s.Requests))
		for i := range s.Requests {
			c.Requests[i] = *s.Requests[i].Clone()
		}
	}
	if s.Markers != nil {
		c.Markers = append([]models.Marker(nil), s.Markers...)
	}
	if s.Route != nil {
		route := *s.Route
		c.Route = &route
	}
	return c
}

// Store owns the session state and notifies subscribers of every change.
// Subscribers that fall behind only ever miss intermediate snapshots.
type Store struct {
	mutex       sync.RWMutex
	state       State
	subscribers map[int]chan State
	nextID      int
}

func NewStore(initial State) *Store {
	if initial.View == "" {
		initial.View = ViewIdle
	}
	return &Store{
		state:       initial,
		subscribers: make(map[int]chan State),
	}
}

func (s *Store) Snapshot() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.Clone()
}

// Update applies fn to the state and publishes the result.
func (s *Store) Update(fn func(*State)) State {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	fn(&s.state)
	s.state.UpdatedAt = time.Now()
	snapshot := s.state.Clone()

	for _, ch := range s.subscribers {
		publish(ch, snapshot)
	}
	return snapshot
}

// Subscribe returns a channel receiving the current state followed by every
// update, and a cancel func that closes it.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan State, 1)
	ch <- s.state.Clone()
	s.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mutex.Lock()
			delete(s.subscribers, id)
			s.mutex.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func publish(ch chan State, snapshot State) {
	select {
	case ch <- snapshot:
		return
	default:
	}
	// Replace the stale snapshot the subscriber has not read yet.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snapshot:
	default:
	}
}
