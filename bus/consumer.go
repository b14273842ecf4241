// Package bus serves token validation requests over RabbitMQ. Peer services
// publish a request naming a reply queue; the consumer answers on that queue
// with the validation verdict, echoing the request's correlation id.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultQueue is the request queue peers publish to.
	DefaultQueue = "validate-token"

	contentTypeJSON = "application/json"
)

// ValidationRequest is the wire format peers send. ReplyTo names the queue
// the verdict goes back on.
type ValidationRequest struct {
	Token   string `json:"token"`
	ReplyTo string `json:"replyTo"`
}

// ValidationReply is the verdict published to the reply queue. UserID is
// non-nil only when IsValid is true; invalid verdicts carry an explicit
// null on the wire.
type ValidationReply struct {
	IsValid bool    `json:"isValid"`
	UserID  *string `json:"userId"`
}

// TokenValidator is the slice of the engine the consumer needs.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, bool, error)
}

type replyPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer drains the validate-token queue. Run one per process; channel
// prefetch serializes in-flight work.
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queue     string
	validator TokenValidator
	logger    *slog.Logger
}

type Config struct {
	URL    string
	Queue  string
	Logger *slog.Logger
}

func NewConsumer(cfg Config, validator TokenValidator) (*Consumer, error) {
	if validator == nil {
		return nil, errors.New("token validator required")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{
		conn:      conn,
		channel:   channel,
		queue:     cfg.Queue,
		validator: validator,
		logger:    cfg.Logger,
	}, nil
}

// Run consumes until the context is canceled or the broker closes the
// channel.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.handleDelivery(ctx, c.channel, delivery)
		}
	}
}

// handleDelivery answers one request. The request is acked only after the
// reply is published, so a crash between the two redelivers rather than
// drops. Explicit failures reject without requeue so a bad message cannot
// loop through the queue.
func (c *Consumer) handleDelivery(ctx context.Context, pub replyPublisher, delivery amqp.Delivery) {
	var req ValidationRequest
	if err := json.Unmarshal(delivery.Body, &req); err != nil || req.ReplyTo == "" {
		c.logger.Warn("rejecting malformed validation request",
			slog.String("queue", c.queue))
		_ = delivery.Nack(false, false)
		return
	}

	userID, valid, err := c.validator.ValidateToken(ctx, req.Token)
	if err != nil {
		c.logger.Error("token validation backend failed",
			slog.String("queue", c.queue), slog.Any("error", err))
		_ = delivery.Nack(false, false)
		return
	}

	reply := ValidationReply{IsValid: valid}
	if valid {
		reply.UserID = &userID
	}

	body, err := json.Marshal(reply)
	if err != nil {
		_ = delivery.Nack(false, false)
		return
	}

	err = pub.PublishWithContext(ctx, "", req.ReplyTo, false, false, amqp.Publishing{
		ContentType:   contentTypeJSON,
		CorrelationId: delivery.CorrelationId,
		Body:          body,
	})
	if err != nil {
		c.logger.Error("reply publish failed",
			slog.String("reply_to", req.ReplyTo), slog.Any("error", err))
		_ = delivery.Nack(false, false)
		return
	}

	_ = delivery.Ack(false)
}

func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.channel != nil {
		errs = append(errs, c.channel.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}
