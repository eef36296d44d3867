// Package cache keeps compiled pipelines so repeated queries skip
// compilation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pipewright/pipewright/pkg/query/compiler"
	"github.com/pipewright/pipewright/pkg/query/parser"
	"golang.org/x/sync/singleflight"
)

// HitRecorder is notified of every lookup
type HitRecorder interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// PipelineCache caches compiled pipelines by collection, language and
// parsed request. Concurrent misses on the same key compile once.
//
// Cached pipelines are shared between callers and must be treated as
// read-only.
type PipelineCache struct {
	lru      *LRUCache
	group    singleflight.Group
	recorder HitRecorder
}

// NewPipelineCache creates a cache holding at most capacity pipelines for
// ttl each. maxStages bounds the total number of cached stages, counting
// both the document and the count pipeline; 0 means unbounded. recorder may
// be nil.
func NewPipelineCache(capacity int, maxStages int64, ttl time.Duration, recorder HitRecorder) *PipelineCache {
	return &PipelineCache{
		lru:      NewLRUCache(capacity, maxStages, ttl),
		recorder: recorder,
	}
}

type keyMaterial struct {
	Collection string          `json:"collection"`
	Lang       string          `json:"lang"`
	Request    *parser.Request `json:"request"`
}

// Key returns the cache key for a compilation. Requests are normalized by
// the parser, so equal queries produce equal keys regardless of parameter
// order.
func Key(collection, lang string, req *parser.Request) (string, error) {
	data, err := json.Marshal(keyMaterial{Collection: collection, Lang: lang, Request: req})
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// GetOrCompile returns the cached pipeline for key, or runs compile and
// caches its result. Errors are returned to every waiting caller and are
// not cached. The boolean reports a cache hit.
func (c *PipelineCache) GetOrCompile(key string, compile func() (*compiler.Pipeline, error)) (*compiler.Pipeline, bool, error) {
	if v, ok := c.lru.Get(key); ok {
		c.hit()
		return v.(*compiler.Pipeline), true, nil
	}
	c.miss()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		p, err := compile()
		if err != nil {
			return nil, err
		}
		c.lru.Put(key, p, stageCount(p))
		return p, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*compiler.Pipeline), false, nil
}

// Invalidate drops every cached pipeline
func (c *PipelineCache) Invalidate() {
	c.lru.Clear()
}

// CleanupExpired drops the pipelines past their ttl and returns how many
// were dropped
func (c *PipelineCache) CleanupExpired() int {
	return c.lru.CleanupExpired()
}

// Len returns the number of cached pipelines
func (c *PipelineCache) Len() int {
	return c.lru.Len()
}

// Stats returns statistics of the underlying cache
func (c *PipelineCache) Stats() Stats {
	return c.lru.Stats()
}

func stageCount(p *compiler.Pipeline) int64 {
	return int64(len(p.Stages) + len(p.CountStages))
}

func (c *PipelineCache) hit() {
	if c.recorder != nil {
		c.recorder.RecordCacheHit()
	}
}

func (c *PipelineCache) miss() {
	if c.recorder != nil {
		c.recorder.RecordCacheMiss()
	}
}
