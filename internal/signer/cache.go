package signer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/technosupport/ome-policy/internal/policy"
)

const DefaultCacheSize = 4096

// Cache memoizes signed URLs. Entries are finished strings and are never
// mutated after insertion. Keys are digests, so secrets are not retained.
type Cache struct {
	urls *lru.Cache[string, string]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("signer cache: %w", err)
	}
	return &Cache{urls: c}, nil
}

// Sign returns the cached URL for these inputs or signs and stores it.
// hit reports whether the result came from the cache.
func (c *Cache) Sign(s *Signer, baseURL, secretKey string, cons policy.Constraints) (url string, hit bool, err error) {
	p, err := policy.Build(cons, s.cfg.Options)
	if err != nil {
		return "", false, err
	}
	doc, err := p.Marshal()
	if err != nil {
		return "", false, err
	}

	key := cacheKey(s.cfg, baseURL, secretKey, doc)
	if url, ok := c.urls.Get(key); ok {
		return url, true, nil
	}

	url, err = s.SignPolicy(baseURL, secretKey, p)
	if err != nil {
		return "", false, err
	}
	c.urls.Add(key, url)
	return url, false, nil
}

func (c *Cache) Len() int {
	return c.urls.Len()
}

func cacheKey(cfg Config, baseURL, secretKey string, doc []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{
		[]byte(cfg.PolicyQueryKey),
		[]byte(cfg.SignatureQueryKey),
		[]byte(baseURL),
		[]byte(secretKey),
		doc,
	} {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		fmt.Fprintf(h, "%d:", len(part))
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
