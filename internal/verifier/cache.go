package verifier

import (
	"sync"
	"time"
)

// certCache holds verified certificates keyed by chain URL. Entries are
// read-only once inserted; a hit is revalidated against the certificate's
// validity interval so an expired entry is never trusted from cache.
type certCache struct {
	mu      sync.RWMutex
	entries map[string]*TrustedCertificate
}

func newCertCache() *certCache {
	return &certCache{entries: make(map[string]*TrustedCertificate)}
}

// get returns the cached certificate for chainURL if it is still within its
// validity interval at now.
func (c *certCache) get(chainURL string, now time.Time) (*TrustedCertificate, bool) {
	c.mu.RLock()
	tc, ok := c.entries[chainURL]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if now.Before(tc.NotBefore) || now.After(tc.NotAfter) {
		// Stale entry; the caller refetches and verifies from scratch.
		c.mu.Lock()
		if cur, ok := c.entries[chainURL]; ok && cur == tc {
			delete(c.entries, chainURL)
		}
		c.mu.Unlock()
		return nil, false
	}
	return tc, true
}

// put inserts or replaces the entry for chainURL. Concurrent racing writers
// both verified independently, so last write wins.
func (c *certCache) put(chainURL string, tc *TrustedCertificate) {
	c.mu.Lock()
	c.entries[chainURL] = tc
	c.mu.Unlock()
}

// size reports the number of cached entries.
func (c *certCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
