// Package catalog keeps an in-process snapshot of the commission rate
// catalog, refreshing it from the store through an optional Redis-backed
// cache. While no snapshot has been loaded the provider hands out a
// fallback resolver that carries the built-in rate table but reports
// itself not ready, which blocks sale submission.
package catalog

import (
	"context"
	"log"
	"sync"
	"time"

	"muscleup/backend/internal/cache"
	"muscleup/backend/internal/domain"
	"muscleup/backend/internal/payment"
)

type Source interface {
	ListCommissionRates(ctx context.Context, gymID string) ([]domain.CommissionRate, error)
}

type Provider struct {
	source Source
	cache  cache.CatalogCache
	gymID  string
	ttl    time.Duration

	mu          sync.RWMutex
	resolver    *payment.CatalogResolver
	refreshedAt time.Time
}

func NewProvider(source Source, catalogCache cache.CatalogCache, gymID string, ttl time.Duration) *Provider {
	if catalogCache == nil {
		catalogCache = cache.NoopCatalogCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Provider{
		source:   source,
		cache:    catalogCache,
		gymID:    gymID,
		ttl:      ttl,
		resolver: payment.Fallback(nil),
	}
}

func (p *Provider) cacheKey() string {
	return "catalog:commissions:" + p.gymID
}

// Resolver returns the current snapshot, refreshing first when the
// snapshot is stale. A failed refresh keeps the last good snapshot if
// one exists, otherwise the fallback resolver.
func (p *Provider) Resolver(ctx context.Context) payment.Resolver {
	p.mu.RLock()
	fresh := p.resolver.Ready() && time.Since(p.refreshedAt) < p.ttl
	resolver := p.resolver
	p.mu.RUnlock()
	if fresh {
		return resolver
	}

	if err := p.Refresh(ctx); err != nil {
		log.Printf("catalog refresh failed: %v", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.resolver
}

// Refresh loads the catalog, preferring the cache and falling back to
// the store. A store hit repopulates the cache.
func (p *Provider) Refresh(ctx context.Context) error {
	if rates, ok, err := p.cache.Get(ctx, p.cacheKey()); err == nil && ok {
		p.install(rates)
		return nil
	} else if err != nil {
		log.Printf("catalog cache read failed: %v", err)
	}

	rates, err := p.source.ListCommissionRates(ctx, p.gymID)
	if err != nil {
		p.mu.Lock()
		if !p.resolver.Ready() {
			p.resolver = payment.Fallback(err)
		}
		p.mu.Unlock()
		return err
	}

	if cacheErr := p.cache.Set(ctx, p.cacheKey(), rates, p.ttl); cacheErr != nil {
		log.Printf("catalog cache write failed: %v", cacheErr)
	}
	p.install(rates)
	return nil
}

// Invalidate drops the cached catalog and the in-process snapshot.
// Called after a commission rate is created or updated so the next
// quote sees the new table.
func (p *Provider) Invalidate(ctx context.Context) {
	if err := p.cache.Invalidate(ctx, p.cacheKey()); err != nil {
		log.Printf("catalog cache invalidate failed: %v", err)
	}
	p.mu.Lock()
	p.refreshedAt = time.Time{}
	p.mu.Unlock()
}

func (p *Provider) install(rates []domain.CommissionRate) {
	resolver := payment.NewCatalogResolver(rates)
	p.mu.Lock()
	p.resolver = resolver
	p.refreshedAt = time.Now()
	p.mu.Unlock()
}
