// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/nihontowatch/nihontowatch/internal/engagement"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]engagement.DwellEnvelope
	err     error
}

func (f *fakeSink) InsertBatch(ctx context.Context, batch []engagement.DwellEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	copied := make([]engagement.DwellEnvelope, len(batch))
	copy(copied, batch)
	f.batches = append(f.batches, copied)
	return nil
}

func (f *fakeSink) events() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeSubscriber struct {
	ch chan *message.Message
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return f.ch, nil
}

func (f *fakeSubscriber) publish(t *testing.T, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.ch <- message.NewMessage(watermill.NewUUID(), data)
}

func TestWriterPersistsEnvelopes(t *testing.T) {
	sink := &fakeSink{}
	sub := &fakeSubscriber{ch: make(chan *message.Message, 8)}
	w := NewWriter(sink, sub, WriterConfig{BatchSize: 2, FlushInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	sub.publish(t, engagement.DwellEnvelope{SessionID: "sess-1", ListingID: 1, DwellMs: 2000})
	sub.publish(t, engagement.DwellEnvelope{SessionID: "sess-1", ListingID: 2, DwellMs: 3000})
	sub.publish(t, engagement.DwellEnvelope{SessionID: "sess-2", ListingID: 1, DwellMs: 4000})

	deadline := time.After(2 * time.Second)
	for sink.events() < 3 {
		select {
		case <-deadline:
			t.Fatalf("events persisted = %d, want 3", sink.events())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
}

func TestWriterFlushesBufferOnShutdown(t *testing.T) {
	sink := &fakeSink{}
	sub := &fakeSubscriber{ch: make(chan *message.Message, 8)}
	// Large batch and long interval: only the shutdown path can flush.
	w := NewWriter(sink, sub, WriterConfig{BatchSize: 100, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	sub.publish(t, engagement.DwellEnvelope{SessionID: "sess-1", ListingID: 1, DwellMs: 2000})

	// Let the writer pull the message off the channel before canceling.
	deadline := time.After(2 * time.Second)
	for len(sub.ch) > 0 {
		select {
		case <-deadline:
			t.Fatal("writer never consumed the message")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-done

	if sink.events() != 1 {
		t.Errorf("events persisted = %d, want 1 from shutdown flush", sink.events())
	}
}

func TestWriterDropsMalformedPayloads(t *testing.T) {
	sink := &fakeSink{}
	sub := &fakeSubscriber{ch: make(chan *message.Message, 8)}
	w := NewWriter(sink, sub, WriterConfig{BatchSize: 1, FlushInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	sub.ch <- message.NewMessage(watermill.NewUUID(), []byte("not json"))
	sub.publish(t, engagement.DwellEnvelope{SessionID: "sess-1", ListingID: 1, DwellMs: 2000})

	deadline := time.After(2 * time.Second)
	for sink.events() < 1 {
		select {
		case <-deadline:
			t.Fatalf("events persisted = %d, want 1", sink.events())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWriterBreakerOpensAfterFailures(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	sub := &fakeSubscriber{ch: make(chan *message.Message, 64)}
	w := NewWriter(sink, sub, WriterConfig{
		BatchSize:        1,
		FlushInterval:    time.Hour,
		BreakerThreshold: 3,
		BreakerTimeout:   time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	for i := 0; i < 5; i++ {
		sub.publish(t, engagement.DwellEnvelope{SessionID: "sess-1", ListingID: int64(i + 1), DwellMs: 2000})
	}

	deadline := time.After(2 * time.Second)
	for w.BreakerState() != "open" {
		select {
		case <-deadline:
			t.Fatalf("breaker state = %s, want open", w.BreakerState())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if sink.events() != 0 {
		t.Errorf("events persisted = %d, want 0 while sink failing", sink.events())
	}
}
