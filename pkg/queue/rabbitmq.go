package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectRabbitMQ dials the broker and opens one channel.
func ConnectRabbitMQ(uri string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return conn, ch, nil
}

// DeclareExchange declares a durable topic exchange.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}

// BindQueue declares a durable queue and binds it to exchange for every routing key.
func BindQueue(ch *amqp.Channel, exchange, queueName string, routingKeys ...string) (amqp.Queue, error) {
	if err := DeclareExchange(ch, exchange); err != nil {
		return amqp.Queue{}, err
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return amqp.Queue{}, fmt.Errorf("failed to bind %s to %s: %w", q.Name, key, err)
		}
	}
	return q, nil
}
