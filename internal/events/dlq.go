package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/jogardn/bespoke-orders/internal/fulfillment"
	"github.com/sirupsen/logrus"
)

// DeadLetter is a fulfillment task that did not fully succeed.
type DeadLetter struct {
	Key      string
	Offset   int64
	Task     *fulfillment.Task
	Metadata FailureMetadata
	// Raw is set when the payload could not be decoded as a task.
	Raw []byte
}

func ParseDeadLetter(message *sarama.ConsumerMessage) DeadLetter {
	dl := DeadLetter{Key: string(message.Key), Offset: message.Offset}
	for _, header := range message.Headers {
		if string(header.Key) == "metadata" {
			_ = json.Unmarshal(header.Value, &dl.Metadata)
			break
		}
	}

	var task fulfillment.Task
	if err := json.Unmarshal(message.Value, &task); err != nil {
		dl.Raw = message.Value
	} else {
		dl.Task = &task
	}
	return dl
}

type deadLetterHandler struct {
	fn func(DeadLetter)
}

func (h *deadLetterHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *deadLetterHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *deadLetterHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		h.fn(ParseDeadLetter(message))
		session.MarkMessage(message, "")
	}
	return nil
}

// WatchDeadLetters calls fn for every dead-lettered task until ctx is done.
func WatchDeadLetters(ctx context.Context, brokers, groupID string, fn func(DeadLetter), logger *logrus.Logger) error {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(splitBrokers(brokers), groupID, config)
	if err != nil {
		return fmt.Errorf("failed to create DLQ consumer: %w", err)
	}
	defer group.Close()

	handler := &deadLetterHandler{fn: fn}
	for ctx.Err() == nil {
		if err := group.Consume(ctx, []string{FulfillmentDLQTopic}, handler); err != nil {
			logger.WithError(err).Error("Error consuming from DLQ")
			return err
		}
	}
	return nil
}
