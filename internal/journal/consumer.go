package journal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type EntryHandler interface {
	HandleEntry(entry Entry) error
}

// Consumer tails the journal topic as part of a consumer group.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       EntryHandler
	logger        *logrus.Logger
	topics        []string
}

type consumerGroupHandler struct {
	handler EntryHandler
	logger  *logrus.Logger
}

func NewConsumer(brokers, groupID string, fromOldest bool, handler EntryHandler, logger *logrus.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if fromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		consumerGroup: consumerGroup,
		handler:       handler,
		logger:        logger,
		topics:        []string{Topic},
	}, nil
}

// Start consumes until ctx is cancelled. Consume returns on every rebalance,
// so it is called in a loop.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		handler: c.handler,
		logger:  c.logger,
	}

	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).Error("Error consuming journal")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Journal consumer context cancelled")
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumerGroup.Close()
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Journal consumer session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Journal consumer session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handleMessage(message); err != nil {
				h.logger.WithError(err).WithFields(logrus.Fields{
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("Failed to handle journal entry")
			}
			// Undecodable entries are skipped; they will not become readable.
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *consumerGroupHandler) handleMessage(message *sarama.ConsumerMessage) error {
	var entry Entry
	if err := json.Unmarshal(message.Value, &entry); err != nil {
		return err
	}
	return h.handler.HandleEntry(entry)
}
