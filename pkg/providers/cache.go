package providers

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ResponseCache is a small per-process LRU keyed by full query URL. It
// suppresses duplicate identical GETs issued by independent collectors
// within one process (e.g. logs and change correlation hitting the same
// range query).
type ResponseCache struct {
	lru *lru.Cache[string, []byte]
}

// NewResponseCache creates a cache holding up to size responses.
func NewResponseCache(size int) (*ResponseCache, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &ResponseCache{lru: c}, nil
}

// Get returns the cached body for url, if present.
func (c *ResponseCache) Get(url string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(url)
}

// Put stores a response body for url.
func (c *ResponseCache) Put(url string, body []byte) {
	if c == nil {
		return
	}
	c.lru.Add(url, body)
}
