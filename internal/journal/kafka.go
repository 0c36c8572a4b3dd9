package journal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logrus.Logger
}

func NewKafkaSink(brokers string, logger *logrus.Logger) (*KafkaSink, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkWithProducer(producer, logger), nil
}

func NewKafkaSinkWithProducer(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		topic:    Topic,
		logger:   logger,
	}
}

// Write publishes the entry keyed by order so one order's history stays on
// one partition.
func (s *KafkaSink) Write(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := entry.OrderID
	if key == "" {
		key = entry.UserID
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(entry.Kind)},
		},
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		s.logger.WithError(err).Error("Failed to send journal entry to Kafka")
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"topic":     s.topic,
		"partition": partition,
		"offset":    offset,
		"kind":      entry.Kind,
		"order_id":  entry.OrderID,
	}).Debug("Journal entry published to Kafka")
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
