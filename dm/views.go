package dm

import (
	"encoding/json"

	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/ids"
)

// ReadConversation returns the messages of a conversation, newest first, and marks it read for userID.
func (m *Manager) ReadConversation(conversationID, userID ids.ID) ([]*Message, error) {
	c, err := m.Conversation(conversationID)
	if err != nil {
		return nil, err
	}
	active, err := m.membership(c).HasParticipant(userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrPermissionDenied
	}

	msgs, err := m.Messages(conversationID)
	if err != nil {
		return nil, err
	}
	if err := m.db.updateReadAt(conversationID.Bytes(), userID.Bytes(), m.now()); err != nil {
		return nil, err
	}
	m.views.conversationRead(userID)
	return msgs, nil
}

// Messages of a conversation, newest first.
func (m *Manager) Messages(conversationID ids.ID) ([]*Message, error) {
	key := cache.ConversationKey(conversationID)
	var msgs []*Message
	if m.cached(key, &msgs) {
		return msgs, nil
	}

	rows, err := m.db.messages(conversationID.Bytes())
	if err != nil {
		return nil, err
	}
	msgs = make([]*Message, len(rows))
	for i, r := range rows {
		msgs[i] = r.toMessage()
	}
	m.store(key, msgs)
	return msgs, nil
}

// Inbox lists the conversations userID is active in, most recent activity first.
func (m *Manager) Inbox(userID ids.ID) ([]*InboxEntry, error) {
	key := cache.InboxKey(userID)
	var entries []*InboxEntry
	if m.cached(key, &entries) {
		return entries, nil
	}

	rows, err := m.db.inbox(userID.Bytes())
	if err != nil {
		return nil, err
	}
	entries = make([]*InboxEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toInboxEntry()
	}
	m.store(key, entries)
	return entries, nil
}

func (m *Manager) cached(key string, v any) bool {
	raw, ok := m.views.get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		m.log.Warnf("discarding cached %s: %v", key, err)
		return false
	}
	return true
}

func (m *Manager) store(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		m.log.Warnf("error encoding %s for cache: %v", key, err)
		return
	}
	m.views.populate(key, string(raw))
}
