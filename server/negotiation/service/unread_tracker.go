package service

import (
	"context"
	"time"

	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
)

// UnreadCacheTTL bounds how long a cached count can outlive a missed
// invalidation.
const UnreadCacheTTL = 5 * time.Minute

// UnreadTracker serves unread counts per session and reader role. Counts come
// from the message store and are cached until the next append or read.
type UnreadTracker struct {
	store MessageStore
	cache CounterCache
}

// NewUnreadTracker accepts a nil cache.
func NewUnreadTracker(store MessageStore, cache CounterCache) *UnreadTracker {
	return &UnreadTracker{store: store, cache: cache}
}

func (t *UnreadTracker) Count(ctx context.Context, sessionID string, role domain.Role) (int64, error) {
	if t.cache != nil {
		n, ok, err := t.cache.Get(ctx, sessionID, string(role))
		if err != nil {
			commonlog.Warnf("event=unread_cache action=get status=failed session_id=%s role=%s error=%v", sessionID, role, err)
		} else if ok {
			return n, nil
		}
	}
	n, err := t.store.CountUnread(ctx, sessionID, role)
	if err != nil {
		return 0, err
	}
	if t.cache != nil {
		if err := t.cache.Set(ctx, sessionID, string(role), n); err != nil {
			commonlog.Warnf("event=unread_cache action=set status=failed session_id=%s role=%s error=%v", sessionID, role, err)
		}
	}
	return n, nil
}

func (t *UnreadTracker) Invalidate(ctx context.Context, sessionID string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Drop(ctx, sessionID); err != nil {
		commonlog.Warnf("event=unread_cache action=drop status=failed session_id=%s error=%v", sessionID, err)
	}
}
