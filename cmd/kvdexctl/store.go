package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kvdex-go/kvdex/kv/pebblekv"
)

// openStore opens the disk-backed backend rooted at dir. kvdexctl always
// talks to pebblekv directly: dump/restore/inspect need a durable handle
// they can open and close within one process invocation, which rules out
// memkv (never persisted) and natskv (queue-only surface).
func openStore(dir string) (*pebblekv.Store, error) {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := pebblekv.Open(dir, pebblekv.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("kvdexctl: open %s: %w", dir, err)
	}
	return s, nil
}
