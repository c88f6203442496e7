package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// prefetchCount bounds how many unacknowledged deliveries a consumer holds.
const prefetchCount = 10

// DefaultRetryDelay is how long a failed delivery waits before it is requeued.
const DefaultRetryDelay = 2 * time.Second

// ConsumeMessages starts a manual-ack consumer on queueName. Every delivery
// must be settled by the caller, normally through ConsumeJSON.
func ConsumeMessages(ch *amqp.Channel, queueName string) (<-chan amqp.Delivery, error) {
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

// ConsumeJSON decodes every delivery into T and hands it to handle until ctx
// is done or the delivery channel closes. A delivery is acked when handle
// returns nil and requeued after retryDelay when it returns an error.
// Undecodable messages are rejected without requeue.
func ConsumeJSON[T any](ctx context.Context, msgs <-chan amqp.Delivery, retryDelay time.Duration, handle func(context.Context, T) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				log.Println("[WARN] Delivery channel closed")
				return
			}
			var v T
			if err := json.Unmarshal(d.Body, &v); err != nil {
				log.Printf("[WARN] Failed to parse message on %s: %v", d.RoutingKey, err)
				settle(d.Reject(false))
				continue
			}
			if err := handle(ctx, v); err != nil {
				log.Printf("[WARN] Handler failed on %s, requeueing (redelivered=%t): %v", d.RoutingKey, d.Redelivered, err)
				requeue(ctx, d, retryDelay)
				continue
			}
			settle(d.Ack(false))
		}
	}
}

// requeue waits out delay so a failing dependency is not hammered, then
// returns d to the queue. Shutdown cuts the wait short.
func requeue(ctx context.Context, d amqp.Delivery, delay time.Duration) {
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	settle(d.Nack(false, true))
}

func settle(err error) {
	if err != nil {
		log.Printf("[ERROR] Failed to settle delivery: %v", err)
	}
}
