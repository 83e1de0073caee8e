package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
)

// AMQPPublisher publishes persistent JSON messages to RabbitMQ. With an
// exchange configured, the event type is the routing key; otherwise messages
// go to the queue through the default exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	log      zerolog.Logger
}

func NewAMQPPublisher(cfg config.RabbitMQConfig, log zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
		}
		if err := ch.QueueBind(cfg.Queue, "#", cfg.Exchange, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq queue bind: %w", err)
		}
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, queue: cfg.Queue, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := p.queue
	if p.exchange != "" {
		key = e.Type
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         e.Type,
		Body:         body,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("type", e.Type).Msg("rabbitmq publish failed")
		return err
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}
