package fwdproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryBackendAdditiveOnly(t *testing.T) {
	b := NewMemoryBackend()
	_, ok := b.Lookup("example.com")
	require.False(t, ok)

	b.Store("example.com", "1.2.3.4")
	ip, ok := b.Lookup("example.com")
	require.True(t, ok)
	require.Equal(t, "1.2.3.4", ip)

	// Re-storing appends rather than replacing; the first match wins
	// on lookup, matching the original's sequential-scan cache.
	b.Store("example.com", "5.6.7.8")
	ip, ok = b.Lookup("example.com")
	require.True(t, ok)
	require.Equal(t, "1.2.3.4", ip)
}

func TestResolverCacheReturnsCachedEntry(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Store("example.internal", "10.1.2.3")
	cache := NewResolverCache(backend)

	ip, err := cache.Resolve(context.Background(), "example.internal")
	require.NoError(t, err)
	require.Equal(t, "10.1.2.3", ip)
}
