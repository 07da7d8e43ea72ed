// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package websocket

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/nihontowatch/nihontowatch/internal/eventbus"
	"github.com/nihontowatch/nihontowatch/internal/logging"
)

// Subscriber is the event-bus surface the forwarder consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Forwarder drains the dwell and listing-updated topics into hub
// broadcasts so dashboards see events live. It implements
// suture.Service.
type Forwarder struct {
	hub *Hub
	bus Subscriber
}

// NewForwarder creates a forwarder feeding the hub.
func NewForwarder(hub *Hub, bus Subscriber) *Forwarder {
	return &Forwarder{hub: hub, bus: bus}
}

// Serve consumes both topics until the context is canceled.
func (f *Forwarder) Serve(ctx context.Context) error {
	dwellCh, err := f.bus.Subscribe(ctx, eventbus.TopicDwell)
	if err != nil {
		return err
	}
	listingCh, err := f.bus.Subscribe(ctx, eventbus.TopicListingUpdated)
	if err != nil {
		return err
	}

	logger := logging.With().Str("component", "ws-forwarder").Logger()

	for {
		select {
		case msg, ok := <-dwellCh:
			if !ok {
				return ctx.Err()
			}
			f.forward(MessageTypeDwell, msg)

		case msg, ok := <-listingCh:
			if !ok {
				return ctx.Err()
			}
			f.forward(MessageTypeListingUpdate, msg)

		case <-ctx.Done():
			logger.Info().Msg("ws forwarder stopped")
			return ctx.Err()
		}
	}
}

// forward re-decodes the payload so clients receive structured JSON
// rather than a base64 blob.
func (f *Forwarder) forward(messageType string, msg *message.Message) {
	defer msg.Ack()

	var data map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		logging.Warn().Err(err).Str("message", msg.UUID).Msg("malformed bus payload not forwarded")
		return
	}
	f.hub.BroadcastJSON(messageType, data)
}
