package pebblekv_test

import (
	"testing"

	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/conformance"
	"github.com/kvdex-go/kvdex/kv/pebblekv"
)

func TestConformance(t *testing.T) {
	conformance.Suite(t, func(t *testing.T) kv.KV {
		store, err := pebblekv.Open(t.TempDir())
		if err != nil {
			t.Fatalf("pebblekv.Open: %v", err)
		}
		return store
	})
}
