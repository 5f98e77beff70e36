package kv_test

import (
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvdex-go/kvdex/kv"
)

func TestPartCompareAcrossKinds(t *testing.T) {
	// bytes < text < int < bigint < bool, regardless of value.
	parts := []kv.Part{
		kv.Bytes([]byte("z")),
		kv.Text("a"),
		kv.Int(-100),
		kv.BigInt(big.NewInt(-100)),
		kv.Bool(false),
	}
	for i := 0; i < len(parts)-1; i++ {
		assert.Equal(t, -1, parts[i].Compare(parts[i+1]), "kind %d should sort before kind %d regardless of value", i, i+1)
	}
}

func TestPartCompareWithinKind(t *testing.T) {
	assert.Equal(t, -1, kv.Int(-5).Compare(kv.Int(5)))
	assert.Equal(t, 1, kv.Int(5).Compare(kv.Int(-5)))
	assert.Equal(t, 0, kv.Int(5).Compare(kv.Int(5)))

	assert.Equal(t, -1, kv.Text("a").Compare(kv.Text("b")))
	assert.Equal(t, -1, kv.Bool(false).Compare(kv.Bool(true)))

	big1 := kv.BigInt(big.NewInt(-999999999999))
	big2 := kv.BigInt(big.NewInt(5))
	assert.Equal(t, -1, big1.Compare(big2))
}

func TestPartStringOrderPreservingMatchesCompare(t *testing.T) {
	ints := []int64{-100, -1, 0, 1, 100, 1 << 40}
	var parts []kv.Part
	for _, n := range ints {
		parts = append(parts, kv.Int(n))
	}
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = p.String()
	}
	sortedStrs := append([]string(nil), strs...)
	sort.Strings(sortedStrs)
	assert.Equal(t, sortedStrs, strs, "Part.String must sort identically to the numeric order it encodes")
}

func TestPartStringOrderingForBigInt(t *testing.T) {
	values := []*big.Int{
		big.NewInt(-1000000),
		big.NewInt(-1),
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(1000000),
	}
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = kv.BigInt(v).String()
	}
	sortedStrs := append([]string(nil), strs...)
	sort.Strings(sortedStrs)
	assert.Equal(t, sortedStrs, strs)
}

func TestKeyHasPrefix(t *testing.T) {
	base := kv.Key{kv.Text("kvdex"), kv.Text("users")}
	full := base.Append(kv.Text("id"), kv.Text("abc"))
	assert.True(t, full.HasPrefix(base))
	assert.False(t, base.HasPrefix(full))

	other := kv.Key{kv.Text("kvdex"), kv.Text("orders")}
	assert.False(t, full.HasPrefix(other))
}

func TestEncodeDecodePartRoundTrip(t *testing.T) {
	cases := []kv.Part{
		kv.Bytes([]byte("raw bytes")),
		kv.Text("hello"),
		kv.Int(-42),
		kv.BigInt(big.NewInt(123456789)),
		kv.Bool(true),
		kv.Bool(false),
	}
	for _, p := range cases {
		encoded := kv.EncodePart(p)
		decoded, err := kv.DecodePart(encoded)
		require.NoError(t, err)
		assert.Equal(t, 0, p.Compare(decoded), "decoded part must compare equal to the original")
	}
}

func TestEncodeDecodeKeyRoundTrip(t *testing.T) {
	key := kv.Key{kv.Text("kvdex"), kv.Text("users"), kv.Text("id"), kv.Text("abc-123")}
	encoded := kv.EncodeKey(key)
	decoded, err := kv.DecodeKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, 0, key.Compare(decoded))
}

func TestPartAccessors(t *testing.T) {
	n, ok := kv.Int(7).Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = kv.Text("x").Int64()
	assert.False(t, ok)

	s, ok := kv.Text("id").Text()
	assert.True(t, ok)
	assert.Equal(t, "id", s)

	_, ok = kv.Int(1).Text()
	assert.False(t, ok)
}

func TestBaseAndFamilyKeys(t *testing.T) {
	base := kv.Base("users")
	assert.Equal(t, kv.Key{kv.Text(kv.FrameworkKey), kv.Text("users")}, base)

	idKey := kv.IDKey(base, kv.Text("u1"))
	assert.True(t, idKey.HasPrefix(base))

	piKey := kv.PrimaryIndexKey(base, "email", kv.Text("a@example.com"))
	assert.True(t, piKey.HasPrefix(base))

	siPrefix := kv.SecondaryIndexPrefix(base, "age", kv.Int(30))
	siKey := kv.SecondaryIndexKey(base, "age", kv.Int(30), kv.Text("u1"))
	assert.True(t, siKey.HasPrefix(siPrefix))
}
