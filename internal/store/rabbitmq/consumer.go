package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer reads task-created notifications and hands each task id to a
// callback. Malformed messages are dead-lettered.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	log      zerolog.Logger
}

func NewConsumer(url, queue string, prefetch int, log zerolog.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = 16
	}
	return &Consumer{url: url, queue: queue, prefetch: prefetch, log: log}
}

// Run consumes until ctx is done, reconnecting after connection loss.
func (c *Consumer) Run(ctx context.Context, onTask func(taskID string)) error {
	backoff := time.Second
	for {
		err := c.consume(ctx, onTask)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("rabbit consumer stopped, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Consumer) consume(ctx context.Context, onTask func(taskID string)) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declare(ch, c.queue); err != nil {
		return err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info().Str("queue", c.queue).Msg("rabbit consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(d, onTask)
		}
	}
}

func (c *Consumer) handle(d amqp.Delivery, onTask func(taskID string)) {
	id, ok := decodeTaskMessage(d.Body)
	if !ok {
		c.log.Warn().Bytes("body", d.Body).Msg("bad task message")
		_ = d.Nack(false, false)
		return
	}
	onTask(id)
	if err := d.Ack(false); err != nil {
		c.log.Warn().Err(err).Str("task_id", id).Msg("ack failed")
	}
}

func decodeTaskMessage(body []byte) (string, bool) {
	var m TaskMessage
	if err := json.Unmarshal(body, &m); err != nil || m.TaskID == "" {
		return "", false
	}
	return m.TaskID, true
}
