// Пакет service — бизнес-логика Trail Module.
// CacheService — LRU-кэш черновиков с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш черновиков.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша черновиков.",
	})
)

// CacheService — кэш черновиков по referenceCode.
// Истечение TTL черновика кэш не отслеживает: вызывающий проверяет
// expiresAt каждой выданной записи. nil-кэш допустим и всегда промахивается.
type CacheService struct {
	cache *expirable.LRU[string, *model.DraftTrail]
}

// NewCacheService создаёт LRU-кэш. maxSize <= 0 отключает кэш (возвращает nil).
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	if maxSize <= 0 {
		return nil
	}
	return &CacheService{cache: expirable.NewLRU[string, *model.DraftTrail](maxSize, nil, ttl)}
}

// Get возвращает копию черновика из кэша.
func (c *CacheService) Get(code string) (*model.DraftTrail, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(code)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set кладёт копию черновика в кэш.
func (c *CacheService) Set(d *model.DraftTrail) {
	if c == nil || d == nil {
		return
	}
	c.cache.Add(d.ReferenceCode, d.Clone())
}

// Delete инвалидирует запись.
func (c *CacheService) Delete(code string) {
	if c == nil {
		return
	}
	c.cache.Remove(code)
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
