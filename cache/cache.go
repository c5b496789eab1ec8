// Package cache defines the key/value cache port used by parley for its derived views, the keys those
// views live under, and the tagged encoding of participant-set lookups.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/meow-io/go-parley/ids"
)

// Cache is the minimal contract for a key-value cache. Implementations must be safe for concurrent use.
// Values are strings so the port stays independent of serialization.
type Cache interface {
	// Get returns ErrMiss when the key is absent; any other error is a transport or server failure.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. Zero or negative TTL means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes keys and returns how many were removed.
	Del(ctx context.Context, keys ...string) (int64, error)

	Ping(ctx context.Context) error

	Close() error
}

// ErrMiss signals a cache miss so callers can tell misses apart from transport errors.
var ErrMiss = errors.New("cache: miss")

const (
	inboxPrefix        = "inbox_"
	conversationPrefix = "conversation_"
	participantsPrefix = "participants_"
)

// Key of the cached inbox of a user.
func InboxKey(userID ids.ID) string {
	return inboxPrefix + userID.String()
}

// Key of the cached message list of a conversation.
func ConversationKey(conversationID ids.ID) string {
	return conversationPrefix + conversationID.String()
}

// Key of the cached conversation lookup for a participant set. The set is deduplicated and sorted first,
// so any ordering of the same participants yields the same key.
func ParticipantsKey(participants []ids.ID) string {
	sorted := ids.Unique(participants)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = p.String()
	}
	return participantsPrefix + strings.Join(parts, "_")
}
