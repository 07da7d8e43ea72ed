// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package websocket

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/nihontowatch/nihontowatch/internal/engagement"
	"github.com/nihontowatch/nihontowatch/internal/interest"
)

type fakeIntake struct {
	observations [][]engagement.Observation
	signals      []interest.Signals
	signalIDs    []int64
	untracked    []string
	flushes      int
	sessions     []string
}

func (f *fakeIntake) HandleObservations(sessionID string, batch []engagement.Observation) error {
	f.sessions = append(f.sessions, sessionID)
	f.observations = append(f.observations, batch)
	return nil
}

func (f *fakeIntake) RecordSignals(sessionID string, listingID int64, s interest.Signals) error {
	f.sessions = append(f.sessions, sessionID)
	f.signalIDs = append(f.signalIDs, listingID)
	f.signals = append(f.signals, s)
	return nil
}

func (f *fakeIntake) Untrack(sessionID, elementID string) error {
	f.untracked = append(f.untracked, elementID)
	return nil
}

func (f *fakeIntake) Flush(sessionID string) error {
	f.flushes++
	return nil
}

func inbound(t *testing.T, msgType string, data any) inboundMessage {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame data: %v", err)
	}
	return inboundMessage{Type: msgType, Data: raw}
}

func TestClientObservationsFrame(t *testing.T) {
	intake := &fakeIntake{}
	c := NewClient(NewHub(), nil, "sess-1", intake)

	batch := []engagement.Observation{
		{ElementID: "card-1", ListingID: 42, Intersecting: true, Ratio: 0.8},
		{ElementID: "card-2", ListingID: 43, Intersecting: false, Ratio: 0},
	}
	c.handleInbound(inbound(t, MessageTypeObservations, batch))

	if len(intake.observations) != 1 {
		t.Fatalf("intake batches = %d, want 1", len(intake.observations))
	}
	if got := intake.observations[0]; len(got) != 2 || got[0].ListingID != 42 {
		t.Errorf("batch = %+v, want the two observations forwarded", got)
	}
	if intake.sessions[0] != "sess-1" {
		t.Errorf("session = %s, want sess-1", intake.sessions[0])
	}
}

func TestClientSignalsFrame(t *testing.T) {
	intake := &fakeIntake{}
	c := NewClient(NewHub(), nil, "sess-1", intake)

	c.handleInbound(inbound(t, MessageTypeSignals, map[string]any{
		"listing_id": 42,
		"signals":    interest.Signals{Favorited: true, ImageViews: 3},
	}))

	if len(intake.signals) != 1 {
		t.Fatalf("signal frames = %d, want 1", len(intake.signals))
	}
	if intake.signalIDs[0] != 42 {
		t.Errorf("listing = %d, want 42", intake.signalIDs[0])
	}
	if !intake.signals[0].Favorited || intake.signals[0].ImageViews != 3 {
		t.Errorf("signals = %+v, want favorited with 3 image views", intake.signals[0])
	}
}

func TestClientUntrackAndHideFrames(t *testing.T) {
	intake := &fakeIntake{}
	c := NewClient(NewHub(), nil, "sess-1", intake)

	c.handleInbound(inbound(t, MessageTypeUntrack, map[string]any{"element_id": "card-7"}))
	c.handleInbound(inboundMessage{Type: MessageTypeHide})

	if len(intake.untracked) != 1 || intake.untracked[0] != "card-7" {
		t.Errorf("untracked = %v, want [card-7]", intake.untracked)
	}
	if intake.flushes != 1 {
		t.Errorf("flushes = %d, want 1", intake.flushes)
	}
}

func TestClientPingAnswersPong(t *testing.T) {
	c := NewClient(NewHub(), nil, "sess-1", nil)

	c.handleInbound(inboundMessage{Type: MessageTypePing})

	select {
	case msg := <-c.send:
		if msg.Type != MessageTypePong {
			t.Errorf("reply type = %s, want pong", msg.Type)
		}
	default:
		t.Error("no pong queued for ping")
	}
}

func TestClientMalformedFramesIgnored(t *testing.T) {
	intake := &fakeIntake{}
	c := NewClient(NewHub(), nil, "sess-1", intake)

	c.handleInbound(inboundMessage{Type: MessageTypeObservations, Data: []byte("not json")})
	c.handleInbound(inboundMessage{Type: MessageTypeSignals, Data: []byte("{")})
	c.handleInbound(inboundMessage{Type: "mystery"})

	if len(intake.observations) != 0 || len(intake.signals) != 0 {
		t.Error("malformed frames reached the intake")
	}
}

func TestClientWithoutIntakeIsReadOnly(t *testing.T) {
	c := NewClient(NewHub(), nil, "sess-1", nil)

	// Must not panic.
	c.handleInbound(inbound(t, MessageTypeObservations, []engagement.Observation{{ElementID: "card-1", ListingID: 1}}))
	c.handleInbound(inboundMessage{Type: MessageTypeHide})
}
