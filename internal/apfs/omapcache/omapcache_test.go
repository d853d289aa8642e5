package omapcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	c := New()
	defer c.Close()

	_, ok := c.Get(42)
	require.False(t, ok)

	c.Put(42, 0xABCD)
	got, ok := c.Get(42)
	require.True(t, ok)
	require.Equal(t, uint64(0xABCD), got)
}

func TestCacheMissForUnknownOID(t *testing.T) {
	c := New()
	defer c.Close()

	c.Put(1, 100)
	_, ok := c.Get(2)
	require.False(t, ok)
}
