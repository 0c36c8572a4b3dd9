package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type memorySink struct {
	mutex   sync.Mutex
	entries []Entry
	closed  bool
	err     error
}

func (s *memorySink) Write(ctx context.Context, entry Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) Close() error {
	s.mutex.Lock()
	s.closed = true
	s.mutex.Unlock()
	return nil
}

func TestRecorderDrainsOnClose(t *testing.T) {
	sink := &memorySink{}
	recorder := NewRecorder(sink, 16, testLogger())

	for i := 0; i < 5; i++ {
		recorder.Record(Entry{Kind: KindOrderUpdated, OrderID: fmt.Sprintf("o-%d", i)})
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(sink.entries) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(sink.entries))
	}
	for i, e := range sink.entries {
		if e.ID == "" || e.RecordedAt.IsZero() {
			t.Errorf("Entry %d missing id or timestamp: %+v", i, e)
		}
		if e.OrderID != fmt.Sprintf("o-%d", i) {
			t.Errorf("Expected entries in order, got %s at %d", e.OrderID, i)
		}
	}
	if !sink.closed {
		t.Error("Expected sink to be closed")
	}

	// Recording after close is a no-op.
	recorder.Record(Entry{Kind: KindOrderCleared})
	if err := recorder.Close(); err != nil {
		t.Errorf("Expected second close to succeed, got %v", err)
	}
}

func TestRecorderSurvivesSinkErrors(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	recorder := NewRecorder(sink, 4, testLogger())
	recorder.Record(Entry{Kind: KindRiderOnline})
	if err := recorder.Close(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(sink.entries) != 0 {
		t.Errorf("Expected no stored entries, got %d", len(sink.entries))
	}
}

func TestKafkaSinkPublishesEntry(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var entry Entry
		if err := json.Unmarshal(val, &entry); err != nil {
			return err
		}
		if entry.Kind != KindAssignmentAccepted || entry.OrderID != "o-9" {
			return fmt.Errorf("unexpected entry %+v", entry)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkWithProducer(producer, testLogger())
	entry := Entry{
		ID:         "e-1",
		Kind:       KindAssignmentAccepted,
		Role:       models.RoleRider,
		OrderID:    "o-9",
		RecordedAt: time.Now(),
	}
	if err := sink.Write(context.Background(), entry); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := sink.Write(context.Background(), entry); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Expected ErrOutOfBrokers, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Unexpected close error: %v", err)
	}
}

type collectingHandler struct {
	entries []Entry
}

func (h *collectingHandler) HandleEntry(entry Entry) error {
	h.entries = append(h.entries, entry)
	return nil
}

func TestConsumerDecodesEntries(t *testing.T) {
	collector := &collectingHandler{}
	handler := &consumerGroupHandler{handler: collector, logger: testLogger()}

	data, _ := json.Marshal(Entry{ID: "e-2", Kind: KindOrderCleared, OrderID: "o-2"})
	if err := handler.handleMessage(&sarama.ConsumerMessage{Topic: Topic, Value: data}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(collector.entries) != 1 || collector.entries[0].OrderID != "o-2" {
		t.Errorf("Unexpected entries %+v", collector.entries)
	}

	if err := handler.handleMessage(&sarama.ConsumerMessage{Topic: Topic, Value: []byte("{")}); err == nil {
		t.Error("Expected an error for malformed entry")
	}
}

func TestPostgresSink(t *testing.T) {
	dsn := os.Getenv("TRACKER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRACKER_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	sink, err := NewPostgresSink(ctx, dsn, 1, testLogger())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer sink.Close()

	orderID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	entry := Entry{
		ID:         fmt.Sprintf("%d", time.Now().UnixNano()),
		Kind:       KindOrderAdopted,
		Role:       models.RoleCustomer,
		UserID:     "u-1",
		OrderID:    orderID,
		Status:     models.StatusCooking,
		RecordedAt: time.Now().UTC(),
	}
	if err := sink.Write(ctx, entry); err != nil {
		t.Fatalf("Unexpected write error: %v", err)
	}
	// Duplicate ids are ignored.
	if err := sink.Write(ctx, entry); err != nil {
		t.Fatalf("Unexpected duplicate write error: %v", err)
	}

	entries, err := sink.Recent(ctx, orderID, 10)
	if err != nil {
		t.Fatalf("Unexpected query error: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != models.StatusCooking {
		t.Errorf("Unexpected entries %+v", entries)
	}
}
