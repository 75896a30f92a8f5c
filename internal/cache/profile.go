package cache

import (
	"context"
	"time"

	"github.com/MrX1068/stunxtV2-sub001/internal/store"
)

// GetProfile returns cached display info for a user, or nil when absent
// or expired.
func (c *Cache) GetProfile(userID string) (*store.Profile, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	return c.db.GetProfile(userID)
}

// SetProfile caches display info for a user with the configured TTL.
// A missing display name gets a placeholder derived from the user id;
// no other field is silently filled in.
func (c *Cache) SetProfile(ctx context.Context, userID, displayName, avatarRef string) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if userID == "" {
		return &store.ValidationError{Field: "user_id"}
	}
	if displayName == "" {
		displayName = userID
	}

	now := time.Now()
	p := &store.Profile{
		UserID:      userID,
		DisplayName: displayName,
		AvatarRef:   avatarRef,
		CachedAt:    now.UnixMilli(),
		ExpiresAt:   now.Add(c.cfg.ProfileTTL()).UnixMilli(),
	}
	return c.queue.Submit(ctx, "set_profile", func() error {
		return c.db.SetProfile(p)
	})
}
