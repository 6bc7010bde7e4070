package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/bespoke-orders/internal/fulfillment"
	"github.com/sirupsen/logrus"
)

// FailureMetadata travels as a header on dead-lettered tasks.
type FailureMetadata struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	FailedActions     []string  `json:"failed_actions,omitempty"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
}

type ConsumerConfig struct {
	Brokers     string
	GroupID     string
	TaskTimeout time.Duration
}

// KafkaConsumer runs fulfillment tasks from the topic. Each task runs once;
// tasks with failed actions are copied to the dead letter topic for
// inspection instead of being retried, so succeeded emails are not resent.
type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	dlq           sarama.SyncProducer
	handler       *taskHandler
	logger        *logrus.Logger
	topics        []string
}

type taskHandler struct {
	runner      fulfillment.Runner
	dlq         sarama.SyncProducer
	taskTimeout time.Duration
	logger      *logrus.Logger
}

func NewKafkaConsumer(cfg ConsumerConfig, runner fulfillment.Runner, logger *logrus.Logger) (*KafkaConsumer, error) {
	if cfg.GroupID == "" {
		cfg.GroupID = "fulfillment-worker"
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Minute
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	brokers := splitBrokers(cfg.Brokers)
	consumerGroup, err := sarama.NewConsumerGroup(brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	dlq, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		dlq:           dlq,
		handler:       newTaskHandler(runner, dlq, cfg.TaskTimeout, logger),
		logger:        logger,
		topics:        []string{FulfillmentTopic},
	}, nil
}

func newTaskHandler(runner fulfillment.Runner, dlq sarama.SyncProducer, timeout time.Duration, logger *logrus.Logger) *taskHandler {
	return &taskHandler{runner: runner, dlq: dlq, taskTimeout: timeout, logger: logger}
}

// Start consumes until ctx is cancelled.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return err
			}
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if err := c.dlq.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close DLQ producer")
	}
	return c.consumerGroup.Close()
}

func (h *taskHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *taskHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *taskHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			// Marked before running: a crash mid-task must not resend mail.
			session.MarkMessage(message, "")
			h.process(session.Context(), message)

		case <-session.Context().Done():
			return nil
		}
	}
}

// process runs one message and dead-letters it when anything failed.
func (h *taskHandler) process(ctx context.Context, message *sarama.ConsumerMessage) {
	logger := h.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	})

	var task fulfillment.Task
	if err := json.Unmarshal(message.Value, &task); err != nil {
		logger.WithError(err).Error("Failed to decode fulfillment task")
		h.deadLetter(message, nil, err.Error())
		return
	}

	result, err := h.run(ctx, task)
	if err != nil {
		logger.WithError(err).Error("Fulfillment task panicked")
		h.deadLetter(message, nil, err.Error())
		return
	}

	failed := result.Failed(task.Kind)
	logger.WithFields(logrus.Fields{
		"order_id": task.Order.ID,
		"kind":     task.Kind,
		"failed":   failed,
	}).Info("Fulfillment task finished")

	if len(failed) > 0 {
		h.deadLetter(message, failed, "actions failed: "+strings.Join(failed, ", "))
	}
}

func (h *taskHandler) run(ctx context.Context, task fulfillment.Task) (result fulfillment.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, h.taskTimeout)
	defer cancel()
	return h.runner.Run(ctx, task), nil
}

func (h *taskHandler) deadLetter(message *sarama.ConsumerMessage, failed []string, reason string) {
	metadata, err := json.Marshal(FailureMetadata{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		FailedActions:     failed,
		ErrorMessage:      reason,
		FailedAt:          time.Now().UTC(),
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode DLQ metadata")
		return
	}

	partition, offset, err := h.dlq.SendMessage(&sarama.ProducerMessage{
		Topic: FulfillmentDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadata},
		},
	})
	if err != nil {
		h.logger.WithError(err).WithField("key", string(message.Key)).Error("Failed to send message to DLQ")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"dlq_topic":     FulfillmentDLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         reason,
	}).Warn("Message sent to dead letter queue")
}
