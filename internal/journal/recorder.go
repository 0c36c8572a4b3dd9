package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/delivery-tracker/internal/metrics"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Recorder queues entries and writes them to a sink on its own goroutine so
// callers never wait on the network. Sink failures are logged only.
type Recorder struct {
	sink   Sink
	queue  chan Entry
	done   chan struct{}
	logger *logrus.Logger

	mutex  sync.RWMutex
	closed bool
}

func NewRecorder(sink Sink, size int, logger *logrus.Logger) *Recorder {
	if size <= 0 {
		size = 256
	}
	r := &Recorder{
		sink:   sink,
		queue:  make(chan Entry, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.run()
	return r
}

func (r *Recorder) Record(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- entry:
	default:
		metrics.JournalDroppedTotal.Inc()
		r.logger.WithFields(logrus.Fields{
			"kind":     entry.Kind,
			"order_id": entry.OrderID,
		}).Warn("Journal queue full, dropping entry")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.sink.Write(ctx, entry); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"kind":     entry.Kind,
				"order_id": entry.OrderID,
			}).Error("Failed to write journal entry")
		}
		cancel()
	}
}

// Close drains queued entries and closes the sink.
func (r *Recorder) Close() error {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mutex.Unlock()

	<-r.done
	return r.sink.Close()
}
