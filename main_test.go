package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"termini-notifier/config"
	"termini-notifier/lock"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "seen.db")

	store, closeStore, err := openStore(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStore() error: %v", err)
	}
	defer closeStore()

	if err := store.Replace(context.Background(), []string{"2025-06-05--10:00"}); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}
	keys, err := store.Load(context.Background())
	if err != nil || len(keys) != 1 {
		t.Errorf("Load() = %v, %v", keys, err)
	}
}

func TestNewLockWithoutRedis(t *testing.T) {
	l, closeLock, err := newLock(context.Background(), config.Default(), discardLogger())
	if err != nil {
		t.Fatalf("newLock() error: %v", err)
	}
	defer closeLock()

	if _, ok := l.(*lock.Local); !ok {
		t.Errorf("newLock() = %T, want *lock.Local", l)
	}
}

func TestNewNotifier(t *testing.T) {
	cfg := config.Default()
	cfg.MockNotify = true

	n, err := newNotifier(context.Background(), cfg, nil, discardLogger(), nil)
	if err != nil {
		t.Fatalf("newNotifier() error: %v", err)
	}
	if n.Recipients() != 2 {
		t.Errorf("Recipients() = %d, want the two default chats", n.Recipients())
	}

	cfg.MockNotify = false
	if _, err := newNotifier(context.Background(), cfg, nil, discardLogger(), nil); err == nil {
		t.Error("newNotifier() succeeded without any channel credentials")
	}

	cfg.Telegram.Token = "tok"
	n, err = newNotifier(context.Background(), cfg, nil, discardLogger(), nil)
	if err != nil || n.Recipients() != 2 {
		t.Errorf("newNotifier() = %v, %v", n, err)
	}
}
