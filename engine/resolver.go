// File: engine/resolver.go
// Author: momentics <momentics@gmail.com>
//
// Host resolution with a TTL-bounded LRU in front of the resolver.

package engine

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Resolver maps a host name to addresses.
type Resolver func(ctx context.Context, host string) ([]netip.Addr, error)

const resolveTimeout = 5 * time.Second

func systemResolver(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

type dnsCache struct {
	lookup Resolver
	cache  *expirable.LRU[string, []netip.Addr]
}

func newDNSCache(lookup Resolver, size int, ttl time.Duration) *dnsCache {
	c := &dnsCache{lookup: lookup}
	if size > 0 {
		c.cache = expirable.NewLRU[string, []netip.Addr](size, nil, ttl)
	}
	return c
}

// resolve returns the addresses of host. Literal addresses bypass the cache.
// Lookups block the calling goroutine.
func (c *dnsCache) resolve(host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a.Unmap()}, nil
	}
	if c.cache != nil {
		if addrs, ok := c.cache.Get(host); ok {
			return addrs, nil
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	addrs, err := c.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}
	if c.cache != nil {
		c.cache.Add(host, addrs)
	}
	return addrs, nil
}

func (c *dnsCache) len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
