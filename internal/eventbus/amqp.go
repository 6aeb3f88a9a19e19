package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes persistent JSON messages to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

func NewAMQPPublisher(url, exchange string, log *slog.Logger) (*AMQPPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("eventbus: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, exchange: exchange, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, p.exchange, key, false, false, publishing(msg, body))
}

func publishing(msg Envelope, body []byte) amqp091.Publishing {
	id := msg.Meta.ID
	if id == "" {
		id = uuid.NewString()
	}
	cid := id
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}
	ts := msg.Meta.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     id,
		CorrelationId: cid,
		Type:          msg.Meta.Type,
		Timestamp:     ts,
		Body:          body,
	}
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
