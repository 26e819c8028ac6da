// Package kafka feeds sensor events published to a Kafka topic into the
// same handlers as the sensor webhooks.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"alert-service/internal/logging"
	"alert-service/internal/models"
)

const (
	readTimeout    = 10 * time.Second
	commitInterval = time.Second
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertSink accepts alert events. QueueSensorEvent reports false when the
// worker queue is full.
type AlertSink interface {
	QueueSensorEvent(ev models.SensorEvent) bool
	HandleSensorEvent(ctx context.Context, ev models.SensorEvent) error
}

type HeartbeatSink interface {
	HandleHeartbeat(ctx context.Context, ev models.SensorEvent) error
}

type Consumer struct {
	reader     messageReader
	alerts     AlertSink
	heartbeats HeartbeatSink
	logger     *logging.Logger
}

func NewConsumer(brokers, topic, groupID string, alerts AlertSink, heartbeats HeartbeatSink, logger *logging.Logger) (*Consumer, error) {
	brokerList := parseBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, errors.New("brokers cannot be empty")
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if groupID == "" {
		return nil, errors.New("groupID cannot be empty")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokerList,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        readTimeout,
		CommitInterval: commitInterval,
		StartOffset:    kafka.FirstOffset,
	})
	logger.Infof("Kafka consumer configured for topic %s (brokers %v, group %s)", topic, brokerList, groupID)
	return newConsumer(reader, alerts, heartbeats, logger), nil
}

func newConsumer(reader messageReader, alerts AlertSink, heartbeats HeartbeatSink, logger *logging.Logger) *Consumer {
	return &Consumer{reader: reader, alerts: alerts, heartbeats: heartbeats, logger: logger}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Info("Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Info("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				continue
			}
			c.handle(ctx, msg)
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Errorf("Commit offset %d failed: %v", msg.Offset, err)
			}
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var ev models.SensorEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Errorf("Unmarshal message at offset %d failed: %v", msg.Offset, err)
		return
	}
	if err := c.process(ctx, ev); err != nil {
		c.logger.Errorf("Sensor event %q from %s failed: %v", ev.Event, ev.CoreID, err)
	}
}

func (c *Consumer) process(ctx context.Context, ev models.SensorEvent) error {
	if ev.Event == models.SensorHeartbeat {
		if c.heartbeats == nil {
			return fmt.Errorf("no heartbeat handler for %s", ev.CoreID)
		}
		return c.heartbeats.HandleHeartbeat(ctx, ev)
	}
	if c.alerts.QueueSensorEvent(ev) {
		return nil
	}
	// queue full: apply back-pressure by handling it inline
	return c.alerts.HandleSensorEvent(ctx, ev)
}

func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		c.logger.Errorf("Error closing Kafka consumer: %v", err)
		return err
	}
	c.logger.Info("Kafka consumer closed")
	return nil
}

func parseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
