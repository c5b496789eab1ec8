package dm

import (
	"github.com/meow-io/go-parley/ids"
)

// SendToConversation sends body from sender into an existing conversation, first adding
// newParticipants. Adding to a private conversation starts or reuses a separate conversation for the
// combined set instead, leaving the private one untouched.
func (m *Manager) SendToConversation(body string, sender, conversationID ids.ID, newParticipants []ids.ID) (*Message, error) {
	return m.sendToConversation(body, sender, conversationID, newParticipants)
}

// SendToUsers sends body from sender to the conversation holding exactly sender and recipients,
// starting it when needed.
func (m *Manager) SendToUsers(body string, sender ids.ID, recipients []ids.ID) (*Message, error) {
	return m.sendToUsers(body, sender, recipients)
}

func (m *Manager) sendToUsers(body string, sender ids.ID, recipients []ids.ID) (*Message, error) {
	c, err := m.ResolveForSend(sender, recipients)
	if err != nil {
		return nil, err
	}
	return m.sendToConversation(body, sender, c.ID, nil)
}

func (m *Manager) sendToConversation(body string, sender, conversationID ids.ID, newParticipants []ids.ID) (*Message, error) {
	c, err := m.Conversation(conversationID)
	if err != nil {
		return nil, err
	}
	ms := m.membership(c)

	active, err := ms.HasParticipant(sender)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrPermissionDenied
	}

	newParticipants = ids.Unique(newParticipants)
	if len(newParticipants) != 0 {
		private, err := ms.IsPrivate()
		if err != nil {
			return nil, err
		}
		if private {
			current, err := ms.ActiveParticipants()
			if err != nil {
				return nil, err
			}
			recipients := make([]ids.ID, 0, len(current)+len(newParticipants))
			for _, u := range append(current, newParticipants...) {
				if u != sender {
					recipients = append(recipients, u)
				}
			}
			m.log.Debugf("forking private conversation %s for %d new participants", c.ID, len(newParticipants))
			return m.sendToUsers(body, sender, recipients)
		}
		if err := ms.AddParticipants(newParticipants); err != nil {
			return nil, err
		}
	}

	now := m.now()
	msg := &message{
		ID:             ids.NewID().Bytes(),
		ConversationID: c.ID.Bytes(),
		SenderID:       sender.Bytes(),
		Body:           body,
		SentAt:         now,
	}
	if c.LatestMessageID != nil {
		msg.ParentID = c.LatestMessageID.Bytes()
	}
	if err := m.db.insertMessage(msg); err != nil {
		return nil, err
	}
	if err := m.db.updateLatestMessage(msg.ConversationID, msg.ID); err != nil {
		return nil, err
	}

	if err := m.updateFlags(c.ID, sender, now); err != nil {
		return nil, err
	}
	return msg.toMessage(), nil
}

// Marks the conversation unread for everyone but sender, records the reply, and marks it read for
// sender when nobody else replied after sender last read.
func (m *Manager) updateFlags(conversationID, sender ids.ID, now int64) error {
	cid := conversationID.Bytes()
	ps, err := m.db.activeParticipations(cid)
	if err != nil {
		return err
	}

	var self *participation
	others := make([]*participation, 0, len(ps))
	for _, p := range ps {
		if ids.IDFromBytes(p.UserID) == sender {
			self = p
		} else {
			others = append(others, p)
		}
	}
	if self == nil {
		return ErrPermissionDenied
	}

	caughtUp := true
	for _, p := range others {
		if isLater(p.RepliedAt, self.ReadAt) {
			caughtUp = false
			break
		}
	}

	if err := m.db.clearReadAtExcept(cid, self.UserID); err != nil {
		return err
	}
	var readAt *int64
	if caughtUp {
		readAt = &now
	}
	if err := m.db.updateReplied(cid, self.UserID, now, readAt); err != nil {
		return err
	}

	all, err := m.db.participations(cid)
	if err != nil {
		return err
	}
	m.views.messageSent(conversationID, all)
	return nil
}

// Whether a is strictly after b. A missing a is never later, and any a is later than a missing b.
func isLater(a, b *int64) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return *a > *b
}
