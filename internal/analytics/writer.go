// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package analytics

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nihontowatch/nihontowatch/internal/engagement"
	"github.com/nihontowatch/nihontowatch/internal/eventbus"
	"github.com/nihontowatch/nihontowatch/internal/logging"
	"github.com/nihontowatch/nihontowatch/internal/metrics"
)

// EventSink is the store surface the writer batches into.
type EventSink interface {
	InsertBatch(ctx context.Context, batch []engagement.DwellEnvelope) error
}

// Subscriber is the event-bus surface the writer consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// WriterConfig configures the analytics writer.
type WriterConfig struct {
	// BatchSize flushes the buffer once it holds this many events.
	// Default 100.
	BatchSize int

	// FlushInterval flushes a non-empty buffer at least this often.
	// Default 2 seconds.
	FlushInterval time.Duration

	// BreakerThreshold is the consecutive write failures that open the
	// circuit. Default 5.
	BreakerThreshold uint32

	// BreakerTimeout is how long the circuit stays open before probing.
	// Default 30 seconds.
	BreakerTimeout time.Duration
}

func (c *WriterConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Writer consumes dwell envelopes from the event bus and persists them
// in batches. Persistence is a non-essential enhancement: writes go
// through a circuit breaker, and while the breaker is open events are
// dropped with a counter rather than backing up into the core.
//
// Writer implements suture.Service.
type Writer struct {
	sink    EventSink
	bus     Subscriber
	cfg     WriterConfig
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  zerolog.Logger
}

// NewWriter creates a writer draining the dwell topic into sink.
func NewWriter(sink EventSink, bus Subscriber, cfg WriterConfig) *Writer {
	cfg.applyDefaults()
	logger := logging.With().Str("component", "analytics-writer").Logger()

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "analytics-sink",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("analytics breaker state change")
		},
	})

	return &Writer{
		sink:    sink,
		bus:     bus,
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
	}
}

// Serve implements suture.Service: consume the dwell topic until the
// context is canceled, flushing the remaining buffer on the way out.
func (w *Writer) Serve(ctx context.Context) error {
	messages, err := w.bus.Subscribe(ctx, eventbus.TopicDwell)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	buffer := make([]engagement.DwellEnvelope, 0, w.cfg.BatchSize)

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				w.flush(context.Background(), buffer)
				return ctx.Err()
			}

			var env engagement.DwellEnvelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				w.logger.Warn().Err(err).Str("message", msg.UUID).Msg("malformed dwell envelope dropped")
				msg.Ack()
				continue
			}
			// Ack regardless of sink outcome: the bus is not a durable
			// queue and a redelivery loop would stall every consumer.
			msg.Ack()

			buffer = append(buffer, env)
			if len(buffer) >= w.cfg.BatchSize {
				w.flush(ctx, buffer)
				buffer = buffer[:0]
			}

		case <-ticker.C:
			if len(buffer) > 0 {
				w.flush(ctx, buffer)
				buffer = buffer[:0]
			}

		case <-ctx.Done():
			// Shutdown contract: drain what is buffered with a fresh
			// context before reporting cancellation.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flush(flushCtx, buffer)
			cancel()
			return ctx.Err()
		}
	}
}

// flush writes one batch through the breaker. Failures drop the batch.
func (w *Writer) flush(ctx context.Context, batch []engagement.DwellEnvelope) {
	if len(batch) == 0 {
		return
	}

	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.sink.InsertBatch(ctx, batch)
	})
	if err != nil {
		metrics.AnalyticsWriteFailures.Inc()
		metrics.AnalyticsEventsDropped.Add(float64(len(batch)))
		w.logger.Warn().Err(err).Int("events", len(batch)).Msg("dwell batch dropped")
	}
}

// BreakerState reports the current breaker state, for health output.
func (w *Writer) BreakerState() string {
	return w.breaker.State().String()
}
