package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterSuffix names the exchange and queue receiving upload requests the
// collaborator rejected or that expired.
const DeadLetterSuffix = ".dlq"

// deadLetterNames derives the dead letter exchange and queue names
func deadLetterNames(exchange, queueName string) (dlx, dlq string) {
	return exchange + DeadLetterSuffix, queueName + DeadLetterSuffix
}

// deadLetterArgs routes rejected messages of the main queue to the DLQ
func deadLetterArgs(exchange, queueName string) amqp.Table {
	dlx, dlq := deadLetterNames(exchange, queueName)
	return amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": dlq,
	}
}

// setupDeadLetterQueue declares the dead letter exchange and queue
func setupDeadLetterQueue(channel *amqp.Channel, exchange, queueName string) error {
	dlx, dlq := deadLetterNames(exchange, queueName)

	err := channel.ExchangeDeclare(
		dlx,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		dlq,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	if err := channel.QueueBind(dlq, dlq, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}
	return nil
}

// Depths reports how many upload requests are waiting and how many were
// dead-lettered.
func (q *Queue) Depths() (pending, dead int, err error) {
	info, err := q.channel.QueueInspect(q.queueName)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	_, dlq := deadLetterNames(q.exchange, q.queueName)
	dlqInfo, err := q.channel.QueueInspect(dlq)
	if err != nil {
		return info.Messages, 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, dlqInfo.Messages, nil
}
