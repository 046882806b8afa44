package dedup

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DomainCache records the last attempt time per registrable domain and
// forgets it after the TTL. Reads do not extend an entry's lifetime.
type DomainCache struct {
	cache *ttlcache.Cache[string, time.Time]
}

// NewDomainCache creates a cache whose entries expire ttl after they were
// last recorded. Call Start to run the background sweep.
func NewDomainCache(ttl time.Duration) *DomainCache {
	return &DomainCache{
		cache: ttlcache.New[string, time.Time](
			ttlcache.WithTTL[string, time.Time](ttl),
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		),
	}
}

// Seen reports whether the domain has a fresh entry.
func (d *DomainCache) Seen(domain string) bool {
	return d.cache.Get(domain) != nil
}

// Record stores domain -> at, restarting its TTL window.
func (d *DomainCache) Record(domain string, at time.Time) {
	d.cache.Set(domain, at, ttlcache.DefaultTTL)
}

// lastAttempt returns the recorded time for a fresh domain entry.
func (d *DomainCache) lastAttempt(domain string) (time.Time, bool) {
	item := d.cache.Get(domain)
	if item == nil {
		return time.Time{}, false
	}
	return item.Value(), true
}

// Len reports the number of throttled domains. Expired entries count until
// the next sweep.
func (d *DomainCache) Len() int {
	return d.cache.Len()
}

// Start runs the periodic expiry sweep until Stop is called. It blocks.
func (d *DomainCache) Start() {
	d.cache.Start()
}

// Stop ends the expiry sweep.
func (d *DomainCache) Stop() {
	d.cache.Stop()
}
