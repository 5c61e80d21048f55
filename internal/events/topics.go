package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// EnsureTopic creates the status topic through the cluster controller when it
// does not exist yet.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int, logger *slog.Logger) error {
	if len(brokers) == 0 {
		return errors.New("EnsureTopic: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("EnsureTopic: dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("EnsureTopic: controller: %w", err)
	}
	ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("EnsureTopic: dial controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     max(partitions, 1),
		ReplicationFactor: 1,
	})
	if errors.Is(err, kafka.TopicAlreadyExists) {
		logger.Debug("kafka topic already exists", "topic", topic)
		return nil
	}
	if err != nil {
		return fmt.Errorf("EnsureTopic: %w", err)
	}
	logger.Info("kafka topic created", "topic", topic)
	return nil
}

// Ping checks that at least one broker accepts connections.
func Ping(ctx context.Context, brokers []string) error {
	var errs []error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return errors.New("Ping: no brokers configured")
	}
	return fmt.Errorf("Ping: %w", errors.Join(errs...))
}
