package dm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/ids"
	"github.com/meow-io/go-parley/internal/db"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const cacheTimeout = 500 * time.Millisecond

// views keeps the cached inbox, message-list and participant-set lookups consistent with the
// transactions that change them. Cache writes and deletes are deferred until the surrounding
// transaction commits and run before its lock is released. Keys invalidated by the open transaction
// are read straight from the database until then. Every cache failure is logged and treated as a miss.
type views struct {
	log   *zap.SugaredLogger
	db    *db.Database
	cache cache.Cache
	ttl   time.Duration

	lock  sync.Mutex
	dirty map[string]struct{}
}

func newViews(log *zap.SugaredLogger, d *db.Database, c cache.Cache, ttl time.Duration) *views {
	return &views{
		log:   log,
		db:    d,
		cache: c,
		ttl:   ttl,
		dirty: make(map[string]struct{}),
	}
}

func (v *views) get(key string) (string, bool) {
	v.lock.Lock()
	_, dirty := v.dirty[key]
	v.lock.Unlock()
	if dirty {
		return "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	val, err := v.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			v.log.Warnf("cache get %s failed: %v", key, err)
		}
		return "", false
	}
	return val, true
}

func (v *views) populate(key, value string) {
	v.db.AfterCommit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		defer cancel()
		if err := v.cache.Set(ctx, key, value, v.ttl); err != nil {
			v.log.Warnf("cache set %s failed: %v", key, err)
		}
	})
}

func (v *views) invalidate(keys ...string) {
	if len(keys) == 0 {
		return
	}
	v.lock.Lock()
	for _, k := range keys {
		v.dirty[k] = struct{}{}
	}
	v.lock.Unlock()

	v.db.AfterCommit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		defer cancel()
		if _, err := v.cache.Del(ctx, keys...); err != nil {
			v.log.Warnf("cache delete %v failed: %v", keys, err)
		}
		v.clean(keys)
	})
	v.db.AfterRollback(func() {
		v.clean(keys)
	})
}

func (v *views) clean(keys []string) {
	v.lock.Lock()
	defer v.lock.Unlock()
	for _, k := range keys {
		delete(v.dirty, k)
	}
}

// A message was sent into conversationID: every participant's inbox order changed and the message
// list grew.
func (v *views) messageSent(conversationID ids.ID, participants []*participation) {
	keys := make(map[string]struct{}, len(participants)+1)
	keys[cache.ConversationKey(conversationID)] = struct{}{}
	for _, p := range participants {
		keys[cache.InboxKey(ids.IDFromBytes(p.UserID))] = struct{}{}
	}
	sorted := maps.Keys(keys)
	slices.Sort(sorted)
	v.invalidate(sorted...)
}

// The participation of users changed, turning the active set before into after.
func (v *views) membershipChanged(users []ids.ID, before, after []ids.ID) {
	keys := make([]string, 0, len(users)+2)
	for _, u := range users {
		keys = append(keys, cache.InboxKey(u))
	}
	if len(before) != 0 {
		keys = append(keys, cache.ParticipantsKey(before))
	}
	if len(after) != 0 {
		keys = append(keys, cache.ParticipantsKey(after))
	}
	slices.Sort(keys)
	v.invalidate(slices.Compact(keys)...)
}

func (v *views) conversationRead(userID ids.ID) {
	v.invalidate(cache.InboxKey(userID))
}
