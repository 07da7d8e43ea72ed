// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

// Package websocket maintains live client connections: engagement intake
// flows in (observations, signals, hide/unload), and dwell events plus
// catalog updates are fanned out to every connected browser.
package websocket

import "github.com/goccy/go-json"

// Message types sent to clients.
const (
	MessageTypeDwell          = "dwell"
	MessageTypeListingUpdate  = "listing_update"
	MessageTypeFeaturedUpdate = "featured_update"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
)

// Message types received from clients.
const (
	MessageTypeObservations = "observations"
	MessageTypeSignals      = "signals"
	MessageTypeUntrack      = "untrack"
	MessageTypeHide         = "hide"
)

// Message is one WebSocket frame in either direction.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// inboundMessage defers data decoding until the type is known.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalMessage converts a message to JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
