package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends audit events to a durable RabbitMQ queue.  A connection
// is dialed per publish; audit traffic is low and this keeps the publisher
// free of reconnect state.
type Publisher struct {
	URL   string
	Queue string
}

// NewPublisher returns a publisher for url, routing to queue (or
// DefaultAuditQueue when empty).
func NewPublisher(url, queue string) *Publisher {
	if queue == "" {
		queue = DefaultAuditQueue
	}
	return &Publisher{URL: url, Queue: queue}
}

// Publish declares the queue (idempotent) and sends ev as a persistent
// JSON message.
func (p *Publisher) Publish(ctx context.Context, ev AuditEvent) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		p.Queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		"",      // default exchange
		p.Queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}
