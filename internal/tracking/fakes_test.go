package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jogardn/delivery-tracker/internal/journal"
	"github.com/jogardn/delivery-tracker/internal/realtime"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type fakeOrders struct {
	mutex sync.Mutex

	active      []models.Order
	activeErr   error
	activeCalls int
	// activeGate, when set, holds ActiveOrders open until closed. The
	// result is taken before waiting.
	activeGate    chan struct{}
	activeEntered chan struct{}

	requests     []models.AssignmentRequest
	requestCalls int

	respond      func(ctx context.Context, id string, accepted bool) (*models.AssignmentResponse, error)
	respondCalls []string

	profile      *models.RiderProfile
	onlineErr    error
	onlineCalls  int
	offlineCalls int
	pickedUp     []string
	delivered    []string
}

func (f *fakeOrders) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	f.mutex.Lock()
	f.activeCalls++
	active, err := append([]models.Order(nil), f.active...), f.activeErr
	gate, entered := f.activeGate, f.activeEntered
	f.mutex.Unlock()

	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return active, nil
}

// holdActive makes the next ActiveOrders calls block until the returned
// release func is called. entered receives once per blocked call.
func (f *fakeOrders) holdActive() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 4)
	f.mutex.Lock()
	f.activeGate, f.activeEntered = gate, ch
	f.mutex.Unlock()
	return ch, func() {
		f.mutex.Lock()
		f.activeGate, f.activeEntered = nil, nil
		f.mutex.Unlock()
		close(gate)
	}
}

func (f *fakeOrders) PendingRequests(ctx context.Context) ([]models.AssignmentRequest, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.requestCalls++
	return append([]models.AssignmentRequest(nil), f.requests...), nil
}

func (f *fakeOrders) RespondToAssignment(ctx context.Context, id string, accepted bool) (*models.AssignmentResponse, error) {
	f.mutex.Lock()
	f.respondCalls = append(f.respondCalls, id)
	respond := f.respond
	f.mutex.Unlock()
	if respond != nil {
		return respond(ctx, id, accepted)
	}
	return &models.AssignmentResponse{Status: "OK"}, nil
}

func (f *fakeOrders) Profile(ctx context.Context) (*models.RiderProfile, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.profile == nil {
		return &models.RiderProfile{}, nil
	}
	return f.profile, nil
}

func (f *fakeOrders) GoOnline(ctx context.Context, lat, lng float64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.onlineCalls++
	return f.onlineErr
}

func (f *fakeOrders) GoOffline(ctx context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.offlineCalls++
	return nil
}

func (f *fakeOrders) MarkPickedUp(ctx context.Context, orderID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.pickedUp = append(f.pickedUp, orderID)
	return nil
}

func (f *fakeOrders) MarkDelivered(ctx context.Context, orderID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.delivered = append(f.delivered, orderID)
	return nil
}

func (f *fakeOrders) counts() (active, requests, responds int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.activeCalls, f.requestCalls, len(f.respondCalls)
}

func (f *fakeOrders) setActive(orders ...models.Order) {
	f.mutex.Lock()
	f.active = orders
	f.mutex.Unlock()
}

type emitted struct {
	Type    string
	Payload interface{}
}

type fakeChannel struct {
	mutex   sync.Mutex
	rooms   []string
	emitted []emitted
	handler realtime.Handler
}

func (f *fakeChannel) Join(room string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.rooms = append(f.rooms, room)
	return nil
}

func (f *fakeChannel) Emit(eventType string, payload interface{}) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.emitted = append(f.emitted, emitted{Type: eventType, Payload: payload})
	return nil
}

func (f *fakeChannel) Listen(handler realtime.Handler) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.handler = handler
}

func (f *fakeChannel) emits() []emitted {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]emitted(nil), f.emitted...)
}

type fakeRoutes struct {
	mutex sync.Mutex
	legs  [][2]models.Location
}

func (f *fakeRoutes) Route(ctx context.Context, from, to models.Location) (*models.Route, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.legs = append(f.legs, [2]models.Location{from, to})
	return &models.Route{DistanceMeters: 1000, DurationSeconds: 120, Polyline: legPolyline(from.Lat, to.Lat)}, nil
}

// legPolyline names a leg by its endpoint latitudes so tests can tell which
// lookup produced the route in the state.
func legPolyline(fromLat, toLat float64) string {
	return fmt.Sprintf("%.2f>%.2f", fromLat, toLat)
}

type fakeRenderer struct {
	mutex   sync.Mutex
	renders int
	markers []models.Marker
	route   *models.Route
}

func (f *fakeRenderer) RenderMap(markers []models.Marker, route *models.Route) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.renders++
	f.markers = markers
	f.route = route
}

func (f *fakeRenderer) last() ([]models.Marker, *models.Route) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.markers, f.route
}

type fakeJournal struct {
	mutex   sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Record(entry journal.Entry) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeJournal) kinds() []journal.Kind {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var kinds []journal.Kind
	for _, e := range f.entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type harness struct {
	coordinator *Coordinator
	orders      *fakeOrders
	channel     *fakeChannel
	routes      *fakeRoutes
	renderer    *fakeRenderer
	journal     *fakeJournal
}

func newHarness(t *testing.T, config Config, deps Dependencies) *harness {
	t.Helper()
	h := &harness{
		orders:   &fakeOrders{},
		channel:  &fakeChannel{},
		routes:   &fakeRoutes{},
		renderer: &fakeRenderer{},
		journal:  &fakeJournal{},
	}
	if deps.Orders == nil {
		deps.Orders = h.orders
	}
	deps.Channel = h.channel
	deps.Routes = h.routes
	deps.Renderer = h.renderer
	deps.Journal = h.journal

	if config.InitialFetchDelay == 0 {
		config.InitialFetchDelay = time.Millisecond
	}
	h.coordinator = New(config, deps, testLogger())
	t.Cleanup(h.coordinator.Close)
	return h
}

func push(t *testing.T, c *Coordinator, eventType string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal %s: %v", eventType, err)
	}
	if err := c.HandlePush(realtime.Event{Type: eventType, Data: raw}); err != nil {
		t.Fatalf("HandlePush(%s) failed: %v", eventType, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// routeShown reports whether the route in the state is the one looked up
// for the given leg.
func (h *harness) routeShown(fromLat, toLat float64) bool {
	route := h.coordinator.Snapshot().Route
	return route != nil && route.Polyline == legPolyline(fromLat, toLat)
}

func sampleOrder(id string, status models.Status) models.Order {
	return models.Order{
		ID:             id,
		Status:         status,
		RestaurantName: "Spice Route",
		PickupLocation: &models.Location{Lat: 12.97, Lng: 77.59},
		DropLocation:   &models.Location{Lat: 12.93, Lng: 77.62},
	}
}
