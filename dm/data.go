package dm

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/meow-io/go-parley/clock"
	"github.com/meow-io/go-parley/ids"
	"github.com/meow-io/go-parley/internal/db"
	"github.com/meow-io/go-parley/migration"
)

type conversation struct {
	ID              []byte `db:"id"`
	CreatorID       []byte `db:"creator_id"`
	LatestMessageID []byte `db:"latest_message_id"`
	CtimeMicro      int64  `db:"ctime_micro"`
}

func (c *conversation) toConversation() *Conversation {
	return &Conversation{
		ID:              ids.IDFromBytes(c.ID),
		CreatorID:       ids.IDFromBytes(c.CreatorID),
		LatestMessageID: ids.IDPtrFromBytes(c.LatestMessageID),
		CreatedAt:       clock.FromMicro(c.CtimeMicro),
	}
}

type participation struct {
	ConversationID []byte `db:"conversation_id"`
	UserID         []byte `db:"user_id"`
	ReadAt         *int64 `db:"read_at"`
	RepliedAt      *int64 `db:"replied_at"`
	DeletedAt      *int64 `db:"deleted_at"`
}

func (p *participation) toParticipation() *Participation {
	return &Participation{
		ConversationID: ids.IDFromBytes(p.ConversationID),
		UserID:         ids.IDFromBytes(p.UserID),
		ReadAt:         clock.FromMicroPtr(p.ReadAt),
		RepliedAt:      clock.FromMicroPtr(p.RepliedAt),
		DeletedAt:      clock.FromMicroPtr(p.DeletedAt),
	}
}

type message struct {
	ID             []byte `db:"id"`
	ConversationID []byte `db:"conversation_id"`
	SenderID       []byte `db:"sender_id"`
	ParentID       []byte `db:"parent_id"`
	Body           string `db:"body"`
	SentAt         int64  `db:"sent_at"`
}

func (m *message) toMessage() *Message {
	return &Message{
		ID:             ids.IDFromBytes(m.ID),
		ConversationID: ids.IDFromBytes(m.ConversationID),
		SenderID:       ids.IDFromBytes(m.SenderID),
		ParentID:       ids.IDPtrFromBytes(m.ParentID),
		Body:           m.Body,
		SentAt:         clock.FromMicro(m.SentAt),
	}
}

type inboxRow struct {
	participation
	CreatorID       []byte `db:"creator_id"`
	LatestMessageID []byte `db:"latest_message_id"`
	CtimeMicro      int64  `db:"ctime_micro"`
}

func (r *inboxRow) toInboxEntry() *InboxEntry {
	c := conversation{
		ID:              r.ConversationID,
		CreatorID:       r.CreatorID,
		LatestMessageID: r.LatestMessageID,
		CtimeMicro:      r.CtimeMicro,
	}
	return &InboxEntry{
		Conversation:  c.toConversation(),
		Participation: r.participation.toParticipation(),
	}
}

type database struct {
	*db.Database
}

func newDatabase(internalDB *db.Database) (*database, error) {
	d := &database{internalDB}

	if err := internalDB.MigrateNoLock("_dm", []*migration.Migration{
		{
			Name: "Create initial tables",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE conversations (
						id BLOB PRIMARY KEY,
						creator_id BLOB NOT NULL,
						latest_message_id BLOB,
						ctime_micro INTEGER NOT NULL,
						FOREIGN KEY(latest_message_id) REFERENCES messages(id)
					);

					CREATE TABLE participations (
						conversation_id BLOB NOT NULL,
						user_id BLOB NOT NULL,
						read_at INTEGER,
						replied_at INTEGER,
						deleted_at INTEGER,
						PRIMARY KEY(conversation_id, user_id),
						FOREIGN KEY(conversation_id) REFERENCES conversations(id)
					);
					CREATE INDEX participations_user_idx on participations (user_id, deleted_at);

					CREATE TABLE messages (
						id BLOB PRIMARY KEY,
						conversation_id BLOB NOT NULL,
						sender_id BLOB NOT NULL,
						parent_id BLOB,
						body TEXT NOT NULL,
						sent_at INTEGER NOT NULL,
						FOREIGN KEY(conversation_id) REFERENCES conversations(id),
						FOREIGN KEY(parent_id) REFERENCES messages(id)
					);
					CREATE INDEX messages_conversation_sent_at_idx on messages (conversation_id, sent_at);
				`)
				return err
			},
		},
	}); err != nil {
		return nil, err
	}
	return d, nil
}

func (db *database) insertConversation(c *conversation) error {
	if _, err := db.Tx.NamedExec("INSERT INTO conversations (id, creator_id, latest_message_id, ctime_micro) VALUES (:id, :creator_id, :latest_message_id, :ctime_micro)", c); err != nil {
		return fmt.Errorf("dm: error inserting conversation: %w", err)
	}
	return nil
}

func (db *database) conversation(id []byte) (*conversation, error) {
	c := &conversation{}
	if err := db.Tx.Get(c, "SELECT * FROM conversations WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %x", ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("dm: error getting conversation: %w", err)
	}
	return c, nil
}

func (db *database) updateLatestMessage(conversationID, messageID []byte) error {
	if _, err := db.Tx.Exec("UPDATE conversations SET latest_message_id = ? WHERE id = ?", messageID, conversationID); err != nil {
		return fmt.Errorf("dm: error updating latest message: %w", err)
	}
	return nil
}

// Conversations whose active participant set is exactly userIDs. userIDs must be distinct.
func (db *database) conversationsForParticipants(userIDs []ids.ID) ([]*conversation, error) {
	raw := make([][]byte, len(userIDs))
	for i, id := range userIDs {
		raw[i] = id.Bytes()
	}
	query, args, err := sqlx.In(`
		SELECT * FROM conversations WHERE id IN (
			SELECT conversation_id FROM participations
			WHERE deleted_at IS NULL
			GROUP BY conversation_id
			HAVING count(*) = ? AND sum(CASE WHEN user_id IN (?) THEN 1 ELSE 0 END) = ?
		) ORDER BY id`, len(userIDs), raw, len(userIDs))
	if err != nil {
		return nil, fmt.Errorf("dm: error building participant query: %w", err)
	}
	var cs []*conversation
	if err := db.Tx.Select(&cs, db.Tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("dm: error finding conversations for participants: %w", err)
	}
	return cs, nil
}

func (db *database) participation(conversationID, userID []byte) (*participation, error) {
	p := &participation{}
	if err := db.Tx.Get(p, "SELECT * FROM participations WHERE conversation_id = ? AND user_id = ?", conversationID, userID); err != nil {
		return nil, err
	}
	return p, nil
}

func (db *database) insertParticipation(p *participation) error {
	if _, err := db.Tx.NamedExec("INSERT INTO participations (conversation_id, user_id, read_at, replied_at, deleted_at) VALUES (:conversation_id, :user_id, :read_at, :replied_at, :deleted_at)", p); err != nil {
		return fmt.Errorf("dm: error inserting participation: %w", err)
	}
	return nil
}

func (db *database) reinstateParticipation(conversationID, userID []byte) error {
	if _, err := db.Tx.Exec("UPDATE participations SET deleted_at = NULL, read_at = NULL, replied_at = NULL WHERE conversation_id = ? AND user_id = ?", conversationID, userID); err != nil {
		return fmt.Errorf("dm: error reinstating participation: %w", err)
	}
	return nil
}

func (db *database) revokeParticipation(conversationID, userID []byte, deletedAt int64) error {
	if _, err := db.Tx.Exec("UPDATE participations SET deleted_at = ? WHERE conversation_id = ? AND user_id = ?", deletedAt, conversationID, userID); err != nil {
		return fmt.Errorf("dm: error revoking participation: %w", err)
	}
	return nil
}

func (db *database) participations(conversationID []byte) ([]*participation, error) {
	var ps []*participation
	if err := db.Tx.Select(&ps, "SELECT * FROM participations WHERE conversation_id = ? ORDER BY user_id", conversationID); err != nil {
		return nil, fmt.Errorf("dm: error getting participations: %w", err)
	}
	return ps, nil
}

func (db *database) activeParticipations(conversationID []byte) ([]*participation, error) {
	var ps []*participation
	if err := db.Tx.Select(&ps, "SELECT * FROM participations WHERE conversation_id = ? AND deleted_at IS NULL ORDER BY user_id", conversationID); err != nil {
		return nil, fmt.Errorf("dm: error getting active participations: %w", err)
	}
	return ps, nil
}

func (db *database) countParticipations(conversationID []byte) (int, error) {
	var count int
	if err := db.Tx.Get(&count, "SELECT count(*) FROM participations WHERE conversation_id = ?", conversationID); err != nil {
		return 0, fmt.Errorf("dm: error counting participations: %w", err)
	}
	return count, nil
}

// Marks the conversation unread for every active participant except userID.
func (db *database) clearReadAtExcept(conversationID, userID []byte) error {
	if _, err := db.Tx.Exec("UPDATE participations SET read_at = NULL WHERE conversation_id = ? AND user_id != ? AND deleted_at IS NULL", conversationID, userID); err != nil {
		return fmt.Errorf("dm: error clearing read_at: %w", err)
	}
	return nil
}

func (db *database) updateReplied(conversationID, userID []byte, repliedAt int64, readAt *int64) error {
	var err error
	if readAt == nil {
		_, err = db.Tx.Exec("UPDATE participations SET replied_at = ? WHERE conversation_id = ? AND user_id = ?", repliedAt, conversationID, userID)
	} else {
		_, err = db.Tx.Exec("UPDATE participations SET replied_at = ?, read_at = ? WHERE conversation_id = ? AND user_id = ?", repliedAt, *readAt, conversationID, userID)
	}
	if err != nil {
		return fmt.Errorf("dm: error updating replied_at: %w", err)
	}
	return nil
}

func (db *database) updateReadAt(conversationID, userID []byte, readAt int64) error {
	if _, err := db.Tx.Exec("UPDATE participations SET read_at = ? WHERE conversation_id = ? AND user_id = ?", readAt, conversationID, userID); err != nil {
		return fmt.Errorf("dm: error updating read_at: %w", err)
	}
	return nil
}

func (db *database) insertMessage(m *message) error {
	if _, err := db.Tx.NamedExec("INSERT INTO messages (id, conversation_id, sender_id, parent_id, body, sent_at) VALUES (:id, :conversation_id, :sender_id, :parent_id, :body, :sent_at)", m); err != nil {
		return fmt.Errorf("dm: error inserting message: %w", err)
	}
	return nil
}

func (db *database) messages(conversationID []byte) ([]*message, error) {
	var ms []*message
	if err := db.Tx.Select(&ms, "SELECT * FROM messages WHERE conversation_id = ? ORDER BY sent_at DESC, id DESC", conversationID); err != nil {
		return nil, fmt.Errorf("dm: error getting messages: %w", err)
	}
	return ms, nil
}

func (db *database) countMessages(conversationID []byte) (int, error) {
	var count int
	if err := db.Tx.Get(&count, "SELECT count(*) FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return 0, fmt.Errorf("dm: error counting messages: %w", err)
	}
	return count, nil
}

// Active participations of userID joined with their conversations, most recently active conversation first.
func (db *database) inbox(userID []byte) ([]*inboxRow, error) {
	var rows []*inboxRow
	if err := db.Tx.Select(&rows, `
		SELECT p.conversation_id, p.user_id, p.read_at, p.replied_at, p.deleted_at,
			c.creator_id, c.latest_message_id, c.ctime_micro
		FROM participations p
		JOIN conversations c ON c.id = p.conversation_id
		LEFT JOIN messages m ON m.id = c.latest_message_id
		WHERE p.user_id = ? AND p.deleted_at IS NULL
		ORDER BY m.sent_at IS NULL, m.sent_at DESC, c.id`, userID); err != nil {
		return nil, fmt.Errorf("dm: error getting inbox: %w", err)
	}
	return rows, nil
}
