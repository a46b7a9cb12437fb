/*
Package events publishes committed broker facts to RabbitMQ.

PURPOSE:
  Downstream consumers (notifications, billing exports, CRM sync) learn
  about sales and wallet credits from a durable topic exchange instead of
  polling the database.

ROUTING:
  exchange: configurable, type "topic", durable
  keys:     lead.sold, wallet.credited
  body:     JSON, content type application/json, persistent delivery

DELIVERY:
  Best-effort. The engine publishes after commit and only logs failures,
  so a broker outage never blocks or undoes a sale.
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warp/lead-exchange/broker"
)

const DefaultExchange = "ex.leads"

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ implements broker.EventPublisher.
type RabbitMQ struct {
	conn     *amqp.Connection
	ch       channel
	exchange string

	mu sync.Mutex // serializes publishes on the shared channel
}

var _ broker.EventPublisher = (*RabbitMQ)(nil)

// NewRabbitMQ dials url, opens a channel and declares the exchange.
func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, exchange)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string) (*RabbitMQ, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQ{ch: ch, exchange: exchange}, nil
}

func (r *RabbitMQ) PublishLeadSold(ctx context.Context, ev broker.LeadSoldEvent) error {
	return r.publish(ctx, broker.EventLeadSold, ev)
}

func (r *RabbitMQ) PublishWalletCredited(ctx context.Context, ev broker.WalletCreditedEvent) error {
	return r.publish(ctx, broker.EventWalletCredited, ev)
}

func (r *RabbitMQ) publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.ch.PublishWithContext(ctx,
		r.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Type:         key,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

// Healthy reports whether the underlying connection is open.
func (r *RabbitMQ) Healthy() bool {
	return r.conn != nil && !r.conn.IsClosed()
}

// Close closes the channel and the connection.
func (r *RabbitMQ) Close() error {
	err := r.ch.Close()
	if r.conn != nil {
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
