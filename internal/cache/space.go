package cache

import (
	"context"

	"github.com/MrX1068/stunxtV2-sub001/internal/store"
)

// UpsertSpace caches community/space metadata in the space domain.
func (c *Cache) UpsertSpace(ctx context.Context, s *store.Space) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	return c.queue.Submit(ctx, "upsert_space", func() error {
		return c.spaces.UpsertSpace(s)
	})
}

// GetSpace returns cached space metadata, or nil when absent or expired.
func (c *Cache) GetSpace(spaceID string) (*store.Space, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	return c.spaces.GetSpace(spaceID)
}

// ListSpaces returns cached spaces ordered by last activity.
func (c *Cache) ListSpaces(limit int) ([]store.Space, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	return c.spaces.ListSpaces(limit)
}

// DeleteSpace removes a space from the cache on explicit external
// request, e.g. the user left the space.
func (c *Cache) DeleteSpace(ctx context.Context, spaceID string) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	return c.queue.Submit(ctx, "delete_space", func() error {
		return c.spaces.DeleteSpace(spaceID)
	})
}
