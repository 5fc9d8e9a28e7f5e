package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheEntries = 100
)

// CachedResult is one cache entry: the full candidate set plus the stage
// metrics recorded the first time it was computed.
type CachedResult struct {
	Candidates []clinical.RetrievalCandidate
	Metrics    []StageMetric
}

// ResultCache is the bounded, TTL-evicting pipeline result cache: a
// 5-minute default TTL, 100-entry default cap, LRU eviction of the
// oldest inserted key. expirable.LRU is itself safe for concurrent use.
type ResultCache struct {
	lru *expirable.LRU[string, CachedResult]
}

// NewResultCache builds a cache with the given TTL and max entries,
// falling back to the package defaults when either is non-positive.
func NewResultCache(ttl time.Duration, maxEntries int) *ResultCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &ResultCache{lru: expirable.NewLRU[string, CachedResult](maxEntries, nil, ttl)}
}

// Get looks up a cached result by canonical key.
func (c *ResultCache) Get(key string) (CachedResult, bool) {
	return c.lru.Get(key)
}

// Put stores a result under its canonical key.
func (c *ResultCache) Put(key string, result CachedResult) {
	c.lru.Add(key, result)
}

// CacheKey canonicalizes {original_query, patient_id, intent, filters,
// config} into a stable cache key.
func CacheKey(sq clinical.StructuredQuery, alpha float64, enableReranking, enableDiversify, enableRecencyDecay bool) string {
	types := make([]string, len(sq.Filters.ArtifactTypes))
	for i, t := range sq.Filters.ArtifactTypes {
		types[i] = string(t)
	}
	sort.Strings(types)

	dateRange := ""
	if sq.Filters.DateRange != nil {
		dateRange = sq.Filters.DateRange.From.Format(time.RFC3339) + ".." + sq.Filters.DateRange.To.Format(time.RFC3339)
	}

	raw := fmt.Sprintf("q=%s|p=%s|i=%s|t=%v|d=%s|a=%.4f|r=%v|v=%v|c=%v",
		sq.OriginalQuery, sq.PatientID, sq.Intent, types, dateRange,
		alpha, enableReranking, enableDiversify, enableRecencyDecay,
	)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
