package dm

import (
	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/ids"
)

// ResolveForSend returns the conversation holding exactly sender and recipients, starting one with
// sender as its creator when none exists.
func (m *Manager) ResolveForSend(sender ids.ID, recipients []ids.ID) (*Conversation, error) {
	set := ids.Unique(append([]ids.ID{sender}, recipients...))
	if len(set) == 1 {
		return nil, ErrSelfMessagingDenied
	}

	c, err := m.lookupConversation(set, false)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}
	return m.start(sender, set)
}

func (m *Manager) start(creator ids.ID, participants []ids.ID) (*Conversation, error) {
	row := &conversation{
		ID:         ids.NewID().Bytes(),
		CreatorID:  creator.Bytes(),
		CtimeMicro: m.now(),
	}
	if err := m.db.insertConversation(row); err != nil {
		return nil, err
	}
	c := row.toConversation()
	if err := m.membership(c).AddParticipants(participants); err != nil {
		return nil, err
	}
	m.log.Debugf("started conversation %s with %d participants", c.ID, len(participants))
	m.views.populate(cache.ParticipantsKey(participants), cache.FoundLookup(c.ID).Encode())
	return c, nil
}
