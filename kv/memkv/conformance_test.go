package memkv_test

import (
	"testing"

	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/conformance"
	"github.com/kvdex-go/kvdex/kv/memkv"
)

func TestConformance(t *testing.T) {
	conformance.Suite(t, func(t *testing.T) kv.KV {
		return memkv.New()
	})
}
