// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package eventbus provides the in-process event stream connecting the
// engagement core to its consumers.
//
// The dwell callback is deliberately not wired straight into any single
// consumer: events are published to topics on a Watermill pub/sub so the
// analytics writer, the featured-ranking refresher and the live
// WebSocket feed can each subscribe independently without the core
// knowing about them. Delivery is fire-and-forget from the core's
// perspective; a slow consumer must never block emission.
package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/nihontowatch/nihontowatch/internal/logging"
)

// Topics carried by the bus.
const (
	// TopicDwell carries engagement envelopes emitted when a session's
	// dwell on a listing qualifies.
	TopicDwell = "engagement.dwell"

	// TopicListingUpdated carries listing ids whose catalog entry or
	// featured score changed.
	TopicListingUpdated = "listing.updated"
)

// Bus is an in-process publish/subscribe stream over Watermill's
// gochannel transport. Safe for concurrent use.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New creates a bus. The output buffer absorbs bursts from flush cycles
// so publishers do not block on slow subscribers.
func New() *Bus {
	logger := NewLoggerAdapter(logging.With().Str("component", "eventbus").Logger())

	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger),
	}
}

// Publish marshals payload as JSON and publishes it to the topic.
func (b *Bus) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of messages for the topic. Each subscriber
// receives every message published after it subscribed. Messages must be
// Acked or Nacked by the consumer.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return ch, nil
}

// Close shuts the bus down; pending messages are dropped.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
