package dm

import (
	"context"
	"errors"
	"testing"

	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/config"
	"github.com/meow-io/go-parley/ids"
	"github.com/stretchr/testify/require"
)

func TestResolveForSendReturnsSameConversation(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(3)

	var first, second, reordered *Conversation
	require.Nil(tm.run(func(m *Manager) error {
		var err error
		if first, err = m.ResolveForSend(u[0], []ids.ID{u[1], u[2]}); err != nil {
			return err
		}
		second, err = m.ResolveForSend(u[0], []ids.ID{u[2], u[1], u[1]})
		return err
	}))
	require.Nil(tm.run(func(m *Manager) error {
		var err error
		reordered, err = m.ResolveForSend(u[2], []ids.ID{u[0], u[1]})
		return err
	}))
	require.Equal(first.ID, second.ID)
	require.Equal(first.ID, reordered.ID)
	require.Equal(u[0], first.CreatorID)
	require.Equal(1, tm.count(t, "conversations"))
	require.Equal(first.ID, tm.find(t, u[1], u[0], u[2]).ID)
}

func TestFindConversationIsExact(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(3)
	tm.sendToUsers(t, "group", u[0], u[1], u[2])

	require.Nil(tm.find(t, u[0], u[1]))
	require.Nil(tm.find(t, u[0], u[1], u[2], ids.NewID()))
	require.NotNil(tm.find(t, u[0], u[1], u[2]))
}

func TestFindConversationRequiresParticipants(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	err := tm.run(func(m *Manager) error {
		_, err := m.FindConversation(nil)
		return err
	})
	require.ErrorIs(err, ErrNoParticipants)
}

func TestFindConversationCachesAbsence(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(2)
	key := cache.ParticipantsKey(u)

	require.Nil(tm.find(t, u...))
	v, err := tm.cache.Get(context.Background(), key)
	require.Nil(err)
	require.Equal(cache.NotFound, cache.DecodeLookup(v).State)

	msg := tm.sendToUsers(t, "hi", u[0], u[1])
	v, err = tm.cache.Get(context.Background(), key)
	require.Nil(err)
	require.Equal(cache.FoundLookup(msg.ConversationID), cache.DecodeLookup(v))

	require.Nil(tm.cache.Set(context.Background(), key, "", 0))
	c := tm.find(t, u...)
	require.NotNil(c)
	require.Equal(msg.ConversationID, c.ID)
	v, err = tm.cache.Get(context.Background(), key)
	require.Nil(err)
	require.Equal(cache.FoundLookup(c.ID), cache.DecodeLookup(v))

	// served from the cache
	require.Equal(c.ID, tm.find(t, u[1], u[0]).ID)
}

func TestFindConversationIgnoresUnknownCachePayload(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(2)
	msg := tm.sendToUsers(t, "hi", u[0], u[1])

	require.Nil(tm.cache.Set(context.Background(), cache.ParticipantsKey(u), "garbage", 0))
	c := tm.find(t, u...)
	require.NotNil(c)
	require.Equal(msg.ConversationID, c.ID)
}

func TestRolledBackStartIsNotCached(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(2)
	errAbort := errors.New("abort")

	err := tm.run(func(m *Manager) error {
		if _, err := m.FindConversation(u); err != nil {
			return err
		}
		if _, err := m.ResolveForSend(u[0], u[1:]); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(err, errAbort)

	_, err = tm.cache.Get(context.Background(), cache.ParticipantsKey(u))
	require.ErrorIs(err, cache.ErrMiss)
	require.Nil(tm.find(t, u...))
	require.Equal(0, tm.count(t, "conversations"))
	require.Empty(tm.manager.views.dirty)
}

func TestFindConversationInsideCreatingTransaction(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(2)

	require.Nil(tm.find(t, u...))
	require.Nil(tm.run(func(m *Manager) error {
		c, err := m.ResolveForSend(u[0], u[1:])
		if err != nil {
			return err
		}
		// the cached absence must not hide the conversation started in this transaction
		found, err := m.FindConversation(u)
		if err != nil {
			return err
		}
		require.NotNil(found)
		require.Equal(c.ID, found.ID)
		return nil
	}))
}

func TestFindConversationSurfacesDuplicateSets(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(2)

	require.Nil(tm.run(func(m *Manager) error {
		for i := 0; i < 2; i++ {
			c := &conversation{ID: ids.NewID().Bytes(), CreatorID: u[0].Bytes(), CtimeMicro: m.now()}
			if err := m.db.insertConversation(c); err != nil {
				return err
			}
			for _, user := range u {
				if err := m.db.insertParticipation(&participation{ConversationID: c.ID, UserID: user.Bytes()}); err != nil {
					return err
				}
			}
		}
		return nil
	}))

	err := tm.run(func(m *Manager) error {
		_, err := m.FindConversation(u)
		return err
	})
	require.ErrorIs(err, ErrDataIntegrityViolation)

	err = tm.run(func(m *Manager) error {
		_, err := m.SendToUsers("hi", u[0], u[1:])
		return err
	})
	require.ErrorIs(err, ErrDataIntegrityViolation)
	require.Equal(0, tm.count(t, "messages"))
}

func TestBrokenCacheFailsOpen(t *testing.T) {
	require := require.New(t)
	tm := newTestManagerWithCache(t, brokenCache{})
	u := users(3)

	first := tm.sendToUsers(t, "one", u[0], u[1], u[2])
	second := tm.sendToUsers(t, "two", u[1], u[0], u[2])
	require.Equal(first.ConversationID, second.ConversationID)

	var inbox []*InboxEntry
	var msgs []*Message
	require.Nil(tm.run(func(m *Manager) error {
		var err error
		if inbox, err = m.Inbox(u[2]); err != nil {
			return err
		}
		msgs, err = m.ReadConversation(first.ConversationID, u[2])
		return err
	}))
	require.Len(inbox, 1)
	require.Len(msgs, 2)
	require.Empty(tm.manager.views.dirty)
}

func TestSendIgnoresStaleCachedAbsence(t *testing.T) {
	require := require.New(t)
	ch := newFlakyDelCache()
	tm := newTestManagerWithCache(t, ch)
	a, b := ids.NewID(), ids.NewID()
	key := cache.ParticipantsKey([]ids.ID{a, b})

	require.Nil(tm.find(t, a, b))
	first := tm.sendToUsers(t, "hi", a, b)
	second := tm.sendToUsers(t, "back", b, a)
	require.Equal(first.ConversationID, second.ConversationID)

	// an absence cached after the conversation was started must not lead to a second one
	require.Nil(ch.Set(context.Background(), key, cache.NotFoundLookup().Encode(), 0))
	third := tm.sendToUsers(t, "again", a, b)
	require.Equal(first.ConversationID, third.ConversationID)

	require.Equal(1, tm.count(t, "conversations"))
	require.Equal(3, tm.count(t, "messages"))
	v, err := ch.Get(context.Background(), key)
	require.Nil(err)
	require.Equal(cache.FoundLookup(first.ConversationID), cache.DecodeLookup(v))
}

func TestSendIgnoresStaleCachedConversation(t *testing.T) {
	require := require.New(t)
	ch := newFlakyDelCache()
	tm := newTestManagerWithCache(t, ch)
	a, b, c, d := ids.NewID(), ids.NewID(), ids.NewID(), ids.NewID()

	group := tm.sendToUsers(t, "group", a, b, c)
	require.Equal(group.ConversationID, tm.find(t, a, b, c).ID)
	_, err := tm.sendToConversation("d joins", a, group.ConversationID, d)
	require.Nil(err)

	// the lookup for {a, b, c} still names the group, which now includes d
	v, err := ch.Get(context.Background(), cache.ParticipantsKey([]ids.ID{a, b, c}))
	require.Nil(err)
	require.Equal(cache.FoundLookup(group.ConversationID), cache.DecodeLookup(v))
	require.Nil(tm.find(t, a, b, c))

	msg := tm.sendToUsers(t, "just us three", a, b, c)
	require.NotEqual(group.ConversationID, msg.ConversationID)
	require.Equal(ids.Unique([]ids.ID{a, b, c}), tm.participants(t, msg.ConversationID))
	require.Len(tm.participants(t, group.ConversationID), 4)
	require.Equal(msg.ConversationID, tm.find(t, a, b, c).ID)
}

func TestSharedCacheIsNamespaced(t *testing.T) {
	require := require.New(t)
	shared := newMemoryCache()
	one := newTestManagerWithCache(t, shared, config.WithCacheNamespace("one"))
	two := newTestManagerWithCache(t, shared, config.WithCacheNamespace("two"))
	a, b := ids.NewID(), ids.NewID()

	one.sendToUsers(t, "hi", a, b)
	require.Len(one.inbox(t, a), 1)
	require.Len(two.inbox(t, a), 0)
	require.Nil(two.find(t, a, b))

	two.sendToUsers(t, "hi", b, a)
	require.Len(two.inbox(t, a), 1)
	require.Len(one.inbox(t, a), 1)
}
