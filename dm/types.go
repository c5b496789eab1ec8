package dm

import (
	"time"

	"github.com/meow-io/go-parley/ids"
)

// A persistent thread with a fixed creator and a pointer to its most recent message.
type Conversation struct {
	ID              ids.ID    `json:"id"`
	CreatorID       ids.ID    `json:"creator_id"`
	LatestMessageID *ids.ID   `json:"latest_message_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// A user's membership record in a conversation. DeletedAt is set while the user has left.
type Participation struct {
	ConversationID ids.ID     `json:"conversation_id"`
	UserID         ids.ID     `json:"user_id"`
	ReadAt         *time.Time `json:"read_at"`
	RepliedAt      *time.Time `json:"replied_at"`
	DeletedAt      *time.Time `json:"deleted_at"`
}

func (p *Participation) IsDeleted() bool {
	return p.DeletedAt != nil
}

// An immutable message. ParentID points at the conversation's previous latest message.
type Message struct {
	ID             ids.ID    `json:"id"`
	ConversationID ids.ID    `json:"conversation_id"`
	SenderID       ids.ID    `json:"sender_id"`
	ParentID       *ids.ID   `json:"parent_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// One conversation in a user's inbox together with that user's participation in it.
type InboxEntry struct {
	Conversation  *Conversation  `json:"conversation"`
	Participation *Participation `json:"participation"`
}
