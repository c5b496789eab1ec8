package dm

import (
	"errors"
	"fmt"

	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/ids"
	"golang.org/x/exp/slices"
)

// FindConversation returns the conversation whose active participants are exactly participants, or nil
// if there is none. The outcome, including a confirmed absence, is cached under the sorted id set.
func (m *Manager) FindConversation(participants []ids.ID) (*Conversation, error) {
	set := ids.Unique(participants)
	if len(set) == 0 {
		return nil, ErrNoParticipants
	}
	return m.lookupConversation(set, true)
}

// Resolves set through the cache. A cached conversation is only returned after its active participants
// are checked against set. A cached absence is only honoured when trustAbsence is set; writers pass false
// so a missed invalidation can never make them start a duplicate conversation.
func (m *Manager) lookupConversation(set []ids.ID, trustAbsence bool) (*Conversation, error) {
	key := cache.ParticipantsKey(set)

	if v, ok := m.views.get(key); ok {
		switch l := cache.DecodeLookup(v); l.State {
		case cache.NotFound:
			if trustAbsence {
				return nil, nil
			}
		case cache.Found:
			c, err := m.conversationWithParticipants(l.ConversationID, set)
			if err != nil {
				return nil, err
			}
			if c != nil {
				return c, nil
			}
			m.log.Warnf("cached conversation %s for %s is stale", l.ConversationID, key)
		}
	}

	c, err := m.findConversation(set)
	if err != nil {
		return nil, err
	}
	if c == nil {
		m.views.populate(key, cache.NotFoundLookup().Encode())
		return nil, nil
	}
	m.views.populate(key, cache.FoundLookup(c.ID).Encode())
	return c, nil
}

// The conversation id if its active participants are exactly set, otherwise nil.
func (m *Manager) conversationWithParticipants(id ids.ID, set []ids.ID) (*Conversation, error) {
	row, err := m.db.conversation(id.Bytes())
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return nil, nil
		}
		return nil, err
	}
	active, err := m.membership(row.toConversation()).ActiveParticipants()
	if err != nil {
		return nil, err
	}
	if !slices.Equal(active, set) {
		return nil, nil
	}
	return row.toConversation(), nil
}

// Uncached lookup of the conversation owning the exact, deduplicated active set.
func (m *Manager) findConversation(set []ids.ID) (*Conversation, error) {
	cs, err := m.db.conversationsForParticipants(set)
	if err != nil {
		return nil, err
	}
	switch len(cs) {
	case 0:
		return nil, nil
	case 1:
		return cs[0].toConversation(), nil
	default:
		m.log.Errorf("participant set %s is shared by %d conversations", cache.ParticipantsKey(set), len(cs))
		return nil, fmt.Errorf("%w: %d conversations for %d participants", ErrDataIntegrityViolation, len(cs), len(set))
	}
}
