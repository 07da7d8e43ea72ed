// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nihontowatch/nihontowatch/internal/engagement"
	"github.com/nihontowatch/nihontowatch/internal/interest"
	"github.com/nihontowatch/nihontowatch/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// Intake is the engagement engine surface a client feeds. Every inbound
// frame maps to one intake call.
type Intake interface {
	HandleObservations(sessionID string, batch []engagement.Observation) error
	RecordSignals(sessionID string, listingID int64, s interest.Signals) error
	Untrack(sessionID, elementID string) error
	Flush(sessionID string) error
}

// clientIDCounter generates unique, monotonically increasing client
// ids. DETERMINISM: gives broadcasts a stable sort key instead of map
// iteration order.
var clientIDCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub.
// Each connection is bound to a tracking session at upgrade time.
type Client struct {
	id        uint64
	sessionID string
	hub       *Hub
	intake    Intake
	conn      *websocket.Conn
	send      chan Message
}

// NewClient creates a client bound to a session. intake may be nil for
// read-only consumers such as the admin dashboard.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string, intake Intake) *Client {
	return &Client{
		id:        clientIDCounter.Add(1),
		sessionID: sessionID,
		hub:       hub,
		intake:    intake,
		conn:      conn,
		send:      make(chan Message, 256),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump pumps frames from the connection into the intake. On any
// read error the session is flushed so an open dwell period survives an
// abrupt disconnect.
func (c *Client) readPump() {
	defer func() {
		if c.intake != nil {
			if err := c.intake.Flush(c.sessionID); err != nil {
				logging.Debug().Err(err).Str("session", c.sessionID).Msg("disconnect flush failed")
			}
		}
		c.hub.unregisterCh <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			break
		}
		c.handleInbound(msg)
	}
}

// handleInbound dispatches one client frame. Malformed frames are
// logged and skipped; intake errors (rate limits and the like) are not
// fatal to the connection.
func (c *Client) handleInbound(msg inboundMessage) {
	switch msg.Type {
	case MessageTypePing:
		select {
		case c.send <- Message{Type: MessageTypePong}:
		default:
		}

	case MessageTypeObservations:
		if c.intake == nil {
			return
		}
		var batch []engagement.Observation
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			logging.Warn().Err(err).Str("session", c.sessionID).Msg("malformed observations frame")
			return
		}
		if err := c.intake.HandleObservations(c.sessionID, batch); err != nil {
			logging.Debug().Err(err).Str("session", c.sessionID).Msg("observations rejected")
		}

	case MessageTypeSignals:
		if c.intake == nil {
			return
		}
		var payload struct {
			ListingID int64            `json:"listing_id"`
			Signals   interest.Signals `json:"signals"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logging.Warn().Err(err).Str("session", c.sessionID).Msg("malformed signals frame")
			return
		}
		if err := c.intake.RecordSignals(c.sessionID, payload.ListingID, payload.Signals); err != nil {
			logging.Debug().Err(err).Str("session", c.sessionID).Msg("signals rejected")
		}

	case MessageTypeUntrack:
		if c.intake == nil {
			return
		}
		var payload struct {
			ElementID string `json:"element_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logging.Warn().Err(err).Str("session", c.sessionID).Msg("malformed untrack frame")
			return
		}
		if err := c.intake.Untrack(c.sessionID, payload.ElementID); err != nil {
			logging.Debug().Err(err).Str("session", c.sessionID).Msg("untrack rejected")
		}

	case MessageTypeHide:
		// Page hidden or unloading: close out open dwell periods now.
		if c.intake == nil {
			return
		}
		if err := c.intake.Flush(c.sessionID); err != nil {
			logging.Debug().Err(err).Str("session", c.sessionID).Msg("hide flush rejected")
		}

	default:
		logging.Debug().Str("type", msg.Type).Msg("unknown websocket message type")
	}
}

// writePump pumps hub messages to the connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
