package dm

import (
	"sync"
	"testing"

	"github.com/meow-io/go-parley/ids"
	"github.com/stretchr/testify/require"
)

func TestSelfMessagingDenied(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	a := ids.NewID()

	for _, recipients := range [][]ids.ID{nil, {a}, {a, a}} {
		err := tm.run(func(m *Manager) error {
			_, err := m.SendToUsers("me", a, recipients)
			return err
		})
		require.ErrorIs(err, ErrSelfMessagingDenied)
	}
	require.Equal(0, tm.count(t, "conversations"))
	require.Equal(0, tm.count(t, "participations"))
	require.Equal(0, tm.count(t, "messages"))
}

func TestMessagesChainToPrevious(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(2)

	first := tm.sendToUsers(t, "first", u[0], u[1])
	second := tm.sendToUsers(t, "", u[1], u[0])
	require.Nil(first.ParentID)
	require.NotNil(second.ParentID)
	require.Equal(first.ID, *second.ParentID)
	require.Equal(first.ConversationID, second.ConversationID)
	require.True(second.SentAt.After(first.SentAt))

	var c *Conversation
	require.Nil(tm.db.RunReadOnly("conversation", func() error {
		var err error
		c, err = tm.manager.Conversation(first.ConversationID)
		return err
	}))
	require.Equal(second.ID, *c.LatestMessageID)
}

func TestSendRequiresActiveParticipant(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(4)
	msg := tm.sendToUsers(t, "group", u[0], u[1], u[2])
	require.Nil(tm.run(func(m *Manager) error { return m.Leave(msg.ConversationID, u[2]) }))

	for _, sender := range []ids.ID{u[2], u[3]} {
		_, err := tm.sendToConversation("let me in", sender, msg.ConversationID)
		require.ErrorIs(err, ErrPermissionDenied)
		_, err = tm.sendToConversation("let me in", sender, msg.ConversationID, u[3])
		require.ErrorIs(err, ErrPermissionDenied)
	}

	require.Equal(1, tm.count(t, "messages"))
	require.Equal(3, tm.count(t, "participations"))
	var c *Conversation
	require.Nil(tm.db.RunReadOnly("conversation", func() error {
		var err error
		c, err = tm.manager.Conversation(msg.ConversationID)
		return err
	}))
	require.Equal(msg.ID, *c.LatestMessageID)
}

func TestSendAddsParticipantsToGroup(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(4)
	first := tm.sendToUsers(t, "group", u[0], u[1], u[2])

	second, err := tm.sendToConversation("welcome", u[1], first.ConversationID, u[3], u[0])
	require.Nil(err)
	require.Equal(first.ConversationID, second.ConversationID)
	require.Equal(ids.Unique(u), tm.participants(t, first.ConversationID))

	// joining participants see the full history
	var msgs []*Message
	require.Nil(tm.run(func(m *Manager) error {
		var err error
		msgs, err = m.ReadConversation(first.ConversationID, u[3])
		return err
	}))
	require.Len(msgs, 2)
	require.Equal(second.ID, msgs[0].ID)
	require.Equal(first.ID, msgs[1].ID)
}

func TestPromotionForksPrivateConversation(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	a, b, d := ids.NewID(), ids.NewID(), ids.NewID()
	private := tm.sendToUsers(t, "just us", a, b)

	forked, err := tm.sendToConversation("adding d", b, private.ConversationID, d)
	require.Nil(err)
	require.NotEqual(private.ConversationID, forked.ConversationID)
	require.Nil(forked.ParentID)
	require.Equal(ids.Unique([]ids.ID{a, b, d}), tm.participants(t, forked.ConversationID))
	require.Equal(ids.Unique([]ids.ID{a, b}), tm.participants(t, private.ConversationID))

	var forkedMsgs, privateMsgs []*Message
	require.Nil(tm.db.RunReadOnly("messages", func() error {
		var err error
		if forkedMsgs, err = tm.manager.Messages(forked.ConversationID); err != nil {
			return err
		}
		privateMsgs, err = tm.manager.Messages(private.ConversationID)
		return err
	}))
	require.Len(forkedMsgs, 1)
	require.Equal(forked.ID, forkedMsgs[0].ID)
	require.Len(privateMsgs, 1)
	require.Equal(private.ID, privateMsgs[0].ID)

	// promoting again lands in the same group
	again, err := tm.sendToConversation("again", a, private.ConversationID, d)
	require.Nil(err)
	require.Equal(forked.ConversationID, again.ConversationID)
}

// A sends to B, C and D. B replies without reading, then reads. C reads and replies.
func TestReadReplyFlags(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	a, b, c, d := ids.NewID(), ids.NewID(), ids.NewID(), ids.NewID()

	first := tm.sendToUsers(t, "hello all", a, b, c, d)
	conv := first.ConversationID
	pa := tm.participation(t, conv, a)
	require.NotNil(pa.RepliedAt)
	require.NotNil(pa.ReadAt)
	for _, u := range []ids.ID{b, c, d} {
		p := tm.participation(t, conv, u)
		require.Nil(p.ReadAt)
		require.Nil(p.RepliedAt)
	}

	_, err := tm.sendToConversation("hi a", b, conv)
	require.Nil(err)
	pb := tm.participation(t, conv, b)
	require.NotNil(pb.RepliedAt)
	require.Nil(pb.ReadAt)
	for _, u := range []ids.ID{a, c, d} {
		require.Nil(tm.participation(t, conv, u).ReadAt)
	}

	require.Nil(tm.run(func(m *Manager) error {
		_, err := m.ReadConversation(conv, b)
		return err
	}))
	require.NotNil(tm.participation(t, conv, b).ReadAt)

	require.Nil(tm.run(func(m *Manager) error {
		_, err := m.ReadConversation(conv, c)
		return err
	}))
	_, err = tm.sendToConversation("hi everyone", c, conv)
	require.Nil(err)

	read := map[ids.ID]bool{}
	replied := map[ids.ID]bool{}
	for _, u := range []ids.ID{a, b, c, d} {
		p := tm.participation(t, conv, u)
		read[u] = p.ReadAt != nil
		replied[u] = p.RepliedAt != nil
	}
	require.Equal(map[ids.ID]bool{a: false, b: false, c: true, d: false}, read)
	require.Equal(map[ids.ID]bool{a: true, b: true, c: true, d: false}, replied)
}

func TestReplyWithoutReadingStaysUnread(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	a, b, c := ids.NewID(), ids.NewID(), ids.NewID()

	first := tm.sendToUsers(t, "hello", a, b, c)
	_, err := tm.sendToConversation("reply", c, first.ConversationID)
	require.Nil(err)
	pc := tm.participation(t, first.ConversationID, c)
	require.NotNil(pc.RepliedAt)
	require.Nil(pc.ReadAt)

	// a has not read c's reply, so a's next send does not mark the conversation read
	_, err = tm.sendToConversation("again", a, first.ConversationID)
	require.Nil(err)
	require.Nil(tm.participation(t, first.ConversationID, a).ReadAt)
}

func TestSendIsAtomic(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(3)
	first := tm.sendToUsers(t, "group", u[0], u[1], u[2])
	require.Nil(tm.run(func(m *Manager) error {
		_, err := m.ReadConversation(first.ConversationID, u[1])
		return err
	}))
	before := tm.participation(t, first.ConversationID, u[1])
	require.NotNil(before.ReadAt)

	require.Nil(tm.run(func(m *Manager) error {
		_, err := m.db.Tx.Exec(`CREATE TRIGGER fail_latest BEFORE UPDATE OF latest_message_id ON conversations
			BEGIN SELECT RAISE(ABORT, 'forced failure'); END;`)
		return err
	}))

	_, err := tm.sendToConversation("doomed", u[2], first.ConversationID, ids.NewID())
	require.NotNil(err)
	require.Equal(1, tm.count(t, "messages"))
	require.Equal(3, tm.count(t, "participations"))
	require.Equal(before, tm.participation(t, first.ConversationID, u[1]))
	require.Nil(tm.participation(t, first.ConversationID, u[2]).RepliedAt)
	require.Empty(tm.manager.views.dirty)
}

func TestConcurrentSendsCreateOneConversation(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)
	u := users(3)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := u[i%len(u)]
			errs <- tm.run(func(m *Manager) error {
				_, err := m.SendToUsers("race", sender, u)
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.Nil(err)
	}
	require.Equal(1, tm.count(t, "conversations"))
	require.Equal(3, tm.count(t, "participations"))
	require.Equal(10, tm.count(t, "messages"))
}

func TestIsLater(t *testing.T) {
	require := require.New(t)
	one, two := int64(1), int64(2)
	require.False(isLater(nil, nil))
	require.False(isLater(nil, &one))
	require.True(isLater(&one, nil))
	require.True(isLater(&two, &one))
	require.False(isLater(&one, &one))
	require.False(isLater(&one, &two))
}
