// Package jobs dispatches background work — summarisation fills and parent
// auto-summaries — through Kafka rather than a bare goroutine. The message
// carries the full job payload, so whichever consumer in the group reads
// the partition can execute it, including a different server instance.
package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const topic = "branchline.summary.jobs"

// Handler executes a dispatched job payload. The payload is opaque to this
// package; internal/summary encodes and decodes its own job schema.
type Handler func(ctx context.Context, payload []byte)

// Dispatcher publishes job payloads to Kafka and runs a consumer loop that
// hands every received payload to its Handler.
type Dispatcher struct {
	writer  *kafka.Writer
	handler Handler
}

// NewDispatcher starts a consumer loop feeding handler with every payload
// read from the topic. ctx cancellation stops the loop.
func NewDispatcher(ctx context.Context, brokers []string, groupID string, handler Handler) (*Dispatcher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("jobs: no kafka brokers configured")
	}
	if handler == nil {
		return nil, fmt.Errorf("jobs: handler required")
	}
	d := &Dispatcher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		handler: handler,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
	})
	go d.consume(ctx, reader)
	return d, nil
}

// Dispatch publishes payload for asynchronous execution. If the publish
// fails, the job runs inline so it is never lost.
func (d *Dispatcher) Dispatch(payload []byte) {
	msg := kafka.Message{Key: []byte(uuid.NewString()), Value: payload}
	if err := d.writer.WriteMessages(context.Background(), msg); err != nil {
		log.Warn().Err(err).Msg("jobs: publish failed, running inline")
		d.handler(context.Background(), payload)
	}
}

func (d *Dispatcher) consume(ctx context.Context, reader *kafka.Reader) {
	defer reader.Close()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("jobs: read message failed")
			continue
		}
		go d.handler(ctx, msg.Value)
	}
}

func (d *Dispatcher) Close() error {
	return d.writer.Close()
}
