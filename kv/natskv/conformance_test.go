package natskv_test

import (
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/conformance"
	"github.com/kvdex-go/kvdex/kv/memkv"
	"github.com/kvdex-go/kvdex/kv/natskv"
)

// startTestNATS starts an embedded NATS server with JetStream enabled,
// the same pattern the eventbus package uses for its own tests, since
// natskv's queue transport is the same JetStream client.
func startTestNATS(t *testing.T) (*nats.Conn, func()) {
	t.Helper()
	dir := t.TempDir()
	opts := &natsserver.Options{
		Port:               -1,
		JetStream:          true,
		JetStreamMaxMemory: 256 << 20,
		JetStreamMaxStore:  256 << 20,
		StoreDir:           dir,
		NoLog:              true,
		NoSigs:             true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create test NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test NATS server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		t.Fatalf("connect to test NATS: %v", err)
	}

	cleanup := func() {
		nc.Drain()
		nc.Close()
		ns.Shutdown()
	}
	return nc, cleanup
}

func TestConformance(t *testing.T) {
	conformance.Suite(t, func(t *testing.T) kv.KV {
		nc, cleanup := startTestNATS(t)
		t.Cleanup(cleanup)

		streamName := strings.NewReplacer("/", "_", " ", "_").Replace("TEST_" + t.Name())
		store, err := natskv.New(memkv.New(), nc, natskv.WithStream(streamName))
		if err != nil {
			t.Fatalf("natskv.New: %v", err)
		}
		return store
	})
}
