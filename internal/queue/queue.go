package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// Defaults used when the config leaves names empty
const (
	DefaultExchangeName = "reelforge"
	DefaultQueueName    = "upload_requests"
)

// MessageTypeUploadRequest tags messages for the upload collaborator
const MessageTypeUploadRequest = "upload_request"

// Queue hands finished media to the upload collaborator
type Queue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	exchange  string
	queueName string
}

// New connects and declares the exchange, the queue with its dead letter
// queue, and the binding
func New(cfg config.QueueConfig) (*Queue, error) {
	exchange, queueName := names(cfg)

	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := setupDeadLetterQueue(channel, exchange, queueName); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	_, err = channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		deadLetterArgs(exchange, queueName),
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(queueName, queueName, exchange, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Queue{
		conn:      conn,
		channel:   channel,
		exchange:  exchange,
		queueName: queueName,
	}, nil
}

func names(cfg config.QueueConfig) (exchange, queueName string) {
	exchange, queueName = cfg.Exchange, cfg.QueueName
	if exchange == "" {
		exchange = DefaultExchangeName
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return exchange, queueName
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishUpload enqueues req as a persistent JSON message. The request ID
// and creation time are filled in when empty.
func (q *Queue) PublishUpload(ctx context.Context, req *models.UploadRequest) error {
	msg, err := NewUploadMessage(req, time.Now())
	if err != nil {
		metrics.RecordUploadRequest(req.Platform, "error")
		return err
	}

	err = q.channel.PublishWithContext(ctx,
		q.exchange,
		q.queueName,
		false, // mandatory
		false, // immediate
		msg,
	)
	metrics.RecordUploadRequest(req.Platform, metrics.Status(err))
	if err != nil {
		return fmt.Errorf("failed to publish upload request: %w", err)
	}

	return nil
}

// NewUploadMessage validates req and builds the AMQP publishing for it
func NewUploadMessage(req *models.UploadRequest, now time.Time) (amqp.Publishing, error) {
	if req.MediaPath == "" && req.ObjectKey == "" {
		return amqp.Publishing{}, fmt.Errorf("upload request needs a media path or object key")
	}
	if req.Platform == "" {
		return amqp.Publishing{}, fmt.Errorf("upload request needs a platform")
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now.UTC()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal upload request: %w", err)
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    req.ID,
		Type:         MessageTypeUploadRequest,
		Timestamp:    now,
		Body:         body,
	}, nil
}
