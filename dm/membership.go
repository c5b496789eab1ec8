package dm

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/meow-io/go-parley/ids"
)

// A conversation is private when exactly this many participations were ever created for it.
const privateConversationMemberCount = 2

// Membership owns the participant lifecycle of one conversation.
type Membership struct {
	m            *Manager
	conversation *Conversation
}

func (m *Manager) membership(c *Conversation) *Membership {
	return &Membership{m: m, conversation: c}
}

// Adds users to the conversation. Users who never participated get a fresh participation, users who
// left are reinstated with fresh flags, active users are left alone. Fails with
// ErrDataIntegrityViolation when the resulting participants already own another conversation.
func (ms *Membership) AddParticipants(users []ids.ID) error {
	users = ids.Unique(users)
	if len(users) == 0 {
		return nil
	}
	cid := ms.conversation.ID.Bytes()
	before, err := ms.ActiveParticipants()
	if err != nil {
		return err
	}

	changed := make([]ids.ID, 0, len(users))
	for _, u := range users {
		p, err := ms.m.db.participation(cid, u.Bytes())
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := ms.m.db.insertParticipation(&participation{ConversationID: cid, UserID: u.Bytes()}); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("dm: error getting participation: %w", err)
		case p.DeletedAt != nil:
			if err := ms.m.db.reinstateParticipation(cid, u.Bytes()); err != nil {
				return err
			}
		default:
			continue
		}
		changed = append(changed, u)
	}
	if len(changed) == 0 {
		return nil
	}
	ms.m.log.Debugf("added %d participants to %s", len(changed), ms.conversation.ID)
	return ms.membershipChanged(changed, before)
}

// Revokes the participation of user. Ignored when the conversation is private, since a two-party
// conversation can only be superseded, never left. Fails with ErrDataIntegrityViolation when the
// remaining participants already own another conversation.
func (ms *Membership) RemoveParticipant(user ids.ID) error {
	cid := ms.conversation.ID.Bytes()
	p, err := ms.m.db.participation(cid, user.Bytes())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotParticipant
		}
		return fmt.Errorf("dm: error getting participation: %w", err)
	}
	private, err := ms.IsPrivate()
	if err != nil {
		return err
	}
	if private {
		ms.m.log.Debugf("ignoring leave of private conversation %s", ms.conversation.ID)
		return nil
	}
	if p.DeletedAt != nil {
		return nil
	}

	before, err := ms.ActiveParticipants()
	if err != nil {
		return err
	}
	if err := ms.m.db.revokeParticipation(cid, user.Bytes(), ms.m.now()); err != nil {
		return err
	}
	return ms.membershipChanged([]ids.ID{user}, before)
}

// Whether the conversation has exactly two participations, counting those of users who left.
func (ms *Membership) IsPrivate() (bool, error) {
	count, err := ms.m.db.countParticipations(ms.conversation.ID.Bytes())
	if err != nil {
		return false, err
	}
	return count == privateConversationMemberCount, nil
}

// User ids of the active participants, sorted.
func (ms *Membership) ActiveParticipants() ([]ids.ID, error) {
	ps, err := ms.m.db.activeParticipations(ms.conversation.ID.Bytes())
	if err != nil {
		return nil, err
	}
	out := make([]ids.ID, len(ps))
	for i, p := range ps {
		out[i] = ids.IDFromBytes(p.UserID)
	}
	return ids.Unique(out), nil
}

// Every participation row of the conversation, including those of users who left.
func (ms *Membership) Participations() ([]*Participation, error) {
	return ms.m.Participations(ms.conversation.ID)
}

func (ms *Membership) HasParticipant(user ids.ID) (bool, error) {
	p, err := ms.m.db.participation(ms.conversation.ID.Bytes(), user.Bytes())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("dm: error getting participation: %w", err)
	}
	return p.DeletedAt == nil, nil
}

// Registers cache invalidation for a membership change and refuses changes that would give the
// conversation the same active set as another conversation.
func (ms *Membership) membershipChanged(users, before []ids.ID) error {
	after, err := ms.ActiveParticipants()
	if err != nil {
		return err
	}
	if len(after) != 0 {
		cs, err := ms.m.db.conversationsForParticipants(after)
		if err != nil {
			return err
		}
		for _, c := range cs {
			other := ids.IDFromBytes(c.ID)
			if other != ms.conversation.ID {
				return fmt.Errorf("%w: conversation %s already has these %d participants", ErrDataIntegrityViolation, other, len(after))
			}
		}
	}
	ms.m.views.membershipChanged(users, before, after)
	return nil
}
