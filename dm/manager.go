// Package dm implements the transactional core of direct messaging: resolving the conversation a
// message belongs to, authorizing the sender, evolving membership and keeping every participant's
// read and replied state consistent.
//
// Every exported Manager method expects to run inside a transaction opened by the caller on the
// database the manager was built with (db.Run or db.RunReadOnly), and every write it makes commits
// or rolls back with that transaction.
package dm

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/clock"
	"github.com/meow-io/go-parley/config"
	"github.com/meow-io/go-parley/ids"
	"github.com/meow-io/go-parley/internal/db"
	"go.uber.org/zap"
)

type Manager struct {
	log       *zap.SugaredLogger
	config    *config.Config
	db        *database
	clock     clock.Clock
	directory Directory
	views     *views
}

func NewManager(c *config.Config, d *db.Database, ch cache.Cache, cl clock.Clock, directory Directory) (*Manager, error) {
	log := c.Logger("dm")
	database, err := newDatabase(d)
	if err != nil {
		return nil, fmt.Errorf("dm: error making manager %w", err)
	}
	if directory == nil {
		directory = IDDirectory()
	}

	return &Manager{
		log:       log,
		config:    c,
		db:        database,
		clock:     cl,
		directory: directory,
		views:     newViews(log, d, cache.WithNamespace(ch, c.CacheNamespace), c.CacheTTL),
	}, nil
}

// Fetches a conversation by id.
func (m *Manager) Conversation(id ids.ID) (*Conversation, error) {
	c, err := m.db.conversation(id.Bytes())
	if err != nil {
		return nil, err
	}
	return c.toConversation(), nil
}

// Returns the membership manager scoped to one conversation.
func (m *Manager) Membership(conversationID ids.ID) (*Membership, error) {
	c, err := m.Conversation(conversationID)
	if err != nil {
		return nil, err
	}
	return m.membership(c), nil
}

// User ids of the active participants of a conversation.
func (m *Manager) Participants(conversationID ids.ID) ([]ids.ID, error) {
	ms, err := m.Membership(conversationID)
	if err != nil {
		return nil, err
	}
	return ms.ActiveParticipants()
}

// Display handles of the active participants of a conversation, in participant id order.
func (m *Manager) ParticipantHandles(conversationID ids.ID) ([]string, error) {
	participants, err := m.Participants(conversationID)
	if err != nil {
		return nil, err
	}
	handles := make([]string, len(participants))
	for i, p := range participants {
		h, err := m.directory.Handle(p)
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}
	return handles, nil
}

// Every participation row of a conversation, including those of users who left.
func (m *Manager) Participations(conversationID ids.ID) ([]*Participation, error) {
	ps, err := m.db.participations(conversationID.Bytes())
	if err != nil {
		return nil, err
	}
	out := make([]*Participation, len(ps))
	for i, p := range ps {
		out[i] = p.toParticipation()
	}
	return out, nil
}

// The participation of userID in a conversation, active or not.
func (m *Manager) Participation(conversationID, userID ids.ID) (*Participation, error) {
	p, err := m.db.participation(conversationID.Bytes(), userID.Bytes())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotParticipant
		}
		return nil, fmt.Errorf("dm: error getting participation: %w", err)
	}
	return p.toParticipation(), nil
}

// Removes userID from a group conversation. Leaving a private conversation is silently ignored.
// Returns ErrDataIntegrityViolation when the remaining participants already have a conversation of
// their own, and ErrNotParticipant when userID never participated.
func (m *Manager) Leave(conversationID, userID ids.ID) error {
	ms, err := m.Membership(conversationID)
	if err != nil {
		return err
	}
	return ms.RemoveParticipant(userID)
}

// Brings userID back into a conversation, creating the participation if it never existed. Returns
// ErrDataIntegrityViolation when the resulting participants already have another conversation.
func (m *Manager) Reinstate(conversationID, userID ids.ID) error {
	ms, err := m.Membership(conversationID)
	if err != nil {
		return err
	}
	return ms.AddParticipants([]ids.ID{userID})
}

func (m *Manager) now() int64 {
	return m.clock.CurrentTimeMicro()
}
