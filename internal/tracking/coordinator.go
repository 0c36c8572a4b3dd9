package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jogardn/delivery-tracker/internal/geo"
	"github.com/jogardn/delivery-tracker/internal/journal"
	"github.com/jogardn/delivery-tracker/internal/metrics"
	"github.com/jogardn/delivery-tracker/internal/orders"
	"github.com/jogardn/delivery-tracker/internal/realtime"
	"github.com/jogardn/delivery-tracker/internal/session"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoIncomingRequest = errors.New("no incoming assignment request")
	ErrRequestNotFound   = errors.New("assignment request not found")
	ErrNoActiveOrder     = errors.New("no active order")
	ErrNotRider          = errors.New("operation requires a rider session")
	ErrClosed            = errors.New("coordinator closed")

	ErrLocationDenied = geo.ErrLocationDenied
)

type OrderAPI interface {
	ActiveOrders(ctx context.Context) ([]models.Order, error)
	PendingRequests(ctx context.Context) ([]models.AssignmentRequest, error)
	RespondToAssignment(ctx context.Context, assignmentID string, accepted bool) (*models.AssignmentResponse, error)
	Profile(ctx context.Context) (*models.RiderProfile, error)
	GoOnline(ctx context.Context, lat, lng float64) error
	GoOffline(ctx context.Context) error
	MarkPickedUp(ctx context.Context, orderID string) error
	MarkDelivered(ctx context.Context, orderID string) error
}

// PushChannel is the realtime connection. Emit must not block.
type PushChannel interface {
	Join(room string) error
	Emit(eventType string, payload interface{}) error
	Listen(handler realtime.Handler)
}

type RouteLookup interface {
	Route(ctx context.Context, from, to models.Location) (*models.Route, error)
}

// MapRenderer draws markers and a route. Render must not block.
type MapRenderer interface {
	RenderMap(markers []models.Marker, route *models.Route)
}

type Journal interface {
	Record(entry journal.Entry)
}

type Config struct {
	Role   models.Role
	UserID string

	AcceptWindow time.Duration
	// CountdownTick is how often the countdown advances. The window is
	// split into AcceptWindow/CountdownTick ticks.
	CountdownTick    time.Duration
	LocationInterval time.Duration
	// PollInterval is the reconciliation period; zero disables polling.
	PollInterval time.Duration

	InitialFetchAttempts int
	InitialFetchDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.AcceptWindow <= 0 {
		c.AcceptWindow = 25 * time.Second
	}
	if c.CountdownTick <= 0 {
		c.CountdownTick = time.Second
	}
	if c.LocationInterval <= 0 {
		c.LocationInterval = 15 * time.Second
	}
	if c.InitialFetchAttempts <= 0 {
		c.InitialFetchAttempts = 3
	}
	if c.InitialFetchDelay <= 0 {
		c.InitialFetchDelay = time.Second
	}
	return c
}

// Dependencies are the collaborators of a Coordinator. Orders and Channel
// are required.
type Dependencies struct {
	Orders   OrderAPI
	Channel  PushChannel
	Routes   RouteLookup
	Renderer MapRenderer
	Locator  geo.Provider
	Journal  Journal
	Store    *session.Store
}

// Coordinator tracks the active order of one customer or rider session.
//
// All state changes happen on a single loop goroutine. Public methods hand
// work to the loop; network calls run on their own goroutines and post
// their results back, where results that have been superseded are dropped.
type Coordinator struct {
	config   Config
	orders   OrderAPI
	channel  PushChannel
	routes   RouteLookup
	renderer MapRenderer
	locator  geo.Provider
	journal  Journal
	store    *session.Store
	logger   *logrus.Logger

	inbox     chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	// Owned by the loop.
	userID            string
	online            bool
	countdown         *task
	countdownTicks    int
	locationPing      *task
	poll              *task
	refreshSeq        uint64
	appliedRefreshSeq uint64
	// orderVersion moves on every order change that did not come from a
	// refresh. A refresh fetched across such a change is stale.
	orderVersion uint64
	routeSeq     uint64
	routeKey     string
}

func New(config Config, deps Dependencies, logger *logrus.Logger) *Coordinator {
	config = config.withDefaults()

	store := deps.Store
	if store == nil {
		store = session.NewStore(session.State{Role: config.Role, UserID: config.UserID})
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		config:   config,
		orders:   deps.Orders,
		channel:  deps.Channel,
		routes:   deps.Routes,
		renderer: deps.Renderer,
		locator:  deps.Locator,
		journal:  deps.Journal,
		store:    store,
		logger:   logger,
		inbox:    make(chan func(), 256),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		userID:   config.UserID,
	}
	go c.loop()
	return c
}

// Start joins the session room, subscribes to push events and loads the
// initial state. Failures of the initial fetch are logged, not returned.
func (c *Coordinator) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() {
		err = c.start(ctx)
	})
	return err
}

func (c *Coordinator) start(ctx context.Context) error {
	userID := c.config.UserID
	online := false
	if c.isRider() {
		profile, err := c.orders.Profile(ctx)
		if err != nil {
			c.fail(ctx, "profile", err)
		} else {
			online = profile.IsOnline
			if userID == "" {
				userID = profile.UserID
			}
		}
	}

	c.channel.Listen(func(event realtime.Event) {
		c.HandlePush(event)
	})

	if userID == "" {
		c.logger.WithField("role", c.config.Role).Warn("No user id, not joining a push room")
	} else if err := c.channel.Join(c.config.Role.Room(userID)); err != nil {
		return fmt.Errorf("failed to join push room: %w", err)
	}

	if err := c.call(ctx, func() {
		c.userID = userID
		c.store.Update(func(s *session.State) { s.UserID = userID })
	}); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"role":    c.config.Role,
		"user_id": userID,
	}).Info("Order tracking started")

	c.initialFetch(ctx)

	if c.isRider() {
		if online {
			c.call(ctx, func() { c.setOnline(true) })
		}
		c.FetchRequests(ctx)
	}

	if c.config.PollInterval > 0 {
		return c.call(ctx, func() {
			c.poll = c.every(c.config.PollInterval, func() {
				c.refreshAsync("poll")
				if c.online {
					c.fetchRequestsAsync()
				}
			})
		})
	}
	return nil
}

func (c *Coordinator) initialFetch(ctx context.Context) {
	for attempt := 1; attempt <= c.config.InitialFetchAttempts; attempt++ {
		err := c.refresh(ctx, "initial")
		if err == nil || errors.Is(err, orders.ErrUnauthorized) || errors.Is(err, ErrClosed) {
			return
		}

		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": c.config.InitialFetchAttempts,
		}).Warn("Initial order fetch failed")

		if attempt == c.config.InitialFetchAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.InitialFetchDelay):
		}
	}
}

// Close stops all timers, cancels in-flight requests and ends the loop.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.call(context.Background(), func() {
			c.stopCountdown()
			c.stopLocationPing()
			if c.poll != nil {
				c.poll.Stop()
				c.poll = nil
			}
		})
		c.cancel()
		close(c.quit)
		<-c.loopDone
		c.wg.Wait()
		c.logger.Info("Order tracking stopped")
	})
}

func (c *Coordinator) Snapshot() session.State {
	return c.store.Snapshot()
}

func (c *Coordinator) Subscribe() (<-chan session.State, func()) {
	return c.store.Subscribe()
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post queues fn on the loop. It must not be called from the loop itself.
func (c *Coordinator) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the loop and waits until it has run.
func (c *Coordinator) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.post(func() {
		fn()
		close(done)
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goAsync runs fn off the loop with the coordinator's context. Loop only.
func (c *Coordinator) goAsync(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

// fail records a failed call made outside the loop.
func (c *Coordinator) fail(ctx context.Context, op string, err error) {
	c.call(ctx, func() { c.noteFailure(op, err) })
}

// noteFailure logs a failed backend call. Authorization failures end the
// session. Loop only.
func (c *Coordinator) noteFailure(op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	metrics.OperationErrorsTotal.WithLabelValues(op).Inc()
	c.logger.WithError(err).WithField("operation", op).Warn("Backend call failed")

	if errors.Is(err, orders.ErrUnauthorized) {
		c.store.Update(func(s *session.State) {
			s.SessionExpired = true
			s.Message = "Session expired, please sign in again"
		})
	}
}

func (c *Coordinator) record(kind journal.Kind, fill func(e *journal.Entry)) {
	if c.journal == nil {
		return
	}
	entry := journal.Entry{
		Kind:   kind,
		Role:   c.config.Role,
		UserID: c.userID,
	}
	if fill != nil {
		fill(&entry)
	}
	c.journal.Record(entry)
}

func (c *Coordinator) isRider() bool {
	return c.config.Role == models.RoleRider
}
