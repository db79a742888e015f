package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/waops/wadispatch/config"
	"github.com/waops/wadispatch/models"
)

// RabbitMQService owns the broker connection, the job queue and its paired
// dead-letter queue. Delivery is at-most-once: consumption is auto-ack, a
// message lost by the broker is lost.
type RabbitMQService struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	dlq     amqp.Queue

	// amqp channels are not safe for concurrent publishes
	pubMu sync.Mutex
}

func NewRabbitMQService(cfg config.AMQPConfig) (*RabbitMQService, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	dlq, err := ch.QueueDeclare(
		cfg.DLQName(),
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitMQService{
		conn:    conn,
		channel: ch,
		queue:   q,
		dlq:     dlq,
	}, nil
}

// Consume delivers each raw message body to handler, in delivery order, until
// ctx is cancelled or the broker closes the stream. Handlers decide their own
// concurrency.
func (s *RabbitMQService) Consume(ctx context.Context, handler func(context.Context, []byte)) error {
	msgs, err := s.channel.Consume(
		s.queue.Name,
		"",    // consumer tag
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			handler(ctx, msg.Body)
		}
	}
}

// PublishJob enqueues a job for the worker. Used by producers (API handlers,
// campaign runners) sharing this service.
func (s *RabbitMQService) PublishJob(ctx context.Context, job models.Job) error {
	return s.publish(ctx, s.queue.Name, job)
}

// PublishDeadLetter records a terminally failed job on the DLQ.
func (s *RabbitMQService) PublishDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	return s.publish(ctx, s.dlq.Name, dl)
}

func (s *RabbitMQService) publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	return s.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
}

func (s *RabbitMQService) Close() {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
