// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.TraceLevel)
	slogger := slog.New(NewSlogHandlerWithLogger(logger))

	slogger.Info("service started", slog.String("service", "http-server"))

	out := buf.String()
	if !strings.Contains(out, "service started") {
		t.Errorf("output missing message: %s", out)
	}
	if !strings.Contains(out, `"service":"http-server"`) {
		t.Errorf("output missing attribute: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("output missing level: %s", out)
	}
}

func TestSlogHandlerLevelMapping(t *testing.T) {
	tests := []struct {
		zerologLevel zerolog.Level
		slogLevel    slog.Level
		want         bool
	}{
		{zerolog.DebugLevel, slog.LevelDebug, true},
		{zerolog.InfoLevel, slog.LevelDebug, false},
		{zerolog.InfoLevel, slog.LevelInfo, true},
		{zerolog.WarnLevel, slog.LevelInfo, false},
		{zerolog.ErrorLevel, slog.LevelWarn, false},
		{zerolog.ErrorLevel, slog.LevelError, true},
	}

	for _, tt := range tests {
		logger := zerolog.New(nil).Level(tt.zerologLevel)
		handler := NewSlogHandlerWithLogger(logger)
		if got := handler.Enabled(context.Background(), tt.slogLevel); got != tt.want {
			t.Errorf("Enabled(%v) with zerolog %v = %v, want %v",
				tt.slogLevel, tt.zerologLevel, got, tt.want)
		}
	}
}

func TestSlogHandlerGroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.TraceLevel)
	slogger := slog.New(NewSlogHandlerWithLogger(logger)).WithGroup("supervisor")

	slogger.Warn("service failed", slog.String("name", "ranker"))

	if !strings.Contains(buf.String(), `"supervisor.name":"ranker"`) {
		t.Errorf("group prefix missing: %s", buf.String())
	}
}
