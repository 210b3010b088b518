// Package cache memoizes the role names resolved for each principal.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// RoleCache maps a user id to that user's role names
type RoleCache interface {
	Get(ctx context.Context, userID uuid.UUID) ([]string, bool)
	Set(ctx context.Context, userID uuid.UUID, roles []string)
	Invalidate(ctx context.Context, userID uuid.UUID)
	// Purge drops every entry, e.g. after a role is deleted.
	Purge(ctx context.Context)
}

// LRURoleCache is a process-local cache with per-entry TTL
type LRURoleCache struct {
	lru *lru.LRU[uuid.UUID, []string]
}

func NewLRURoleCache(size int, ttl time.Duration) *LRURoleCache {
	if size < 16 {
		size = 16
	}
	return &LRURoleCache{lru: lru.NewLRU[uuid.UUID, []string](size, nil, ttl)}
}

func (c *LRURoleCache) Get(_ context.Context, userID uuid.UUID) ([]string, bool) {
	roles, ok := c.lru.Get(userID)
	if !ok {
		return nil, false
	}
	return append([]string(nil), roles...), true
}

func (c *LRURoleCache) Set(_ context.Context, userID uuid.UUID, roles []string) {
	c.lru.Add(userID, append([]string(nil), roles...))
}

func (c *LRURoleCache) Invalidate(_ context.Context, userID uuid.UUID) {
	c.lru.Remove(userID)
}

func (c *LRURoleCache) Purge(_ context.Context) {
	c.lru.Purge()
}
