package cache

import (
	"strings"

	"github.com/meow-io/go-parley/ids"
)

type LookupState int

const (
	// Nothing is cached for the participant set.
	Absent LookupState = iota
	// A conversation with exactly the participant set exists.
	Found
	// It is known that no conversation with exactly the participant set exists.
	NotFound
)

const (
	foundPrefix = "found:"
	notFound    = "none"
)

// Lookup is the cached outcome of resolving a participant set to a conversation.
type Lookup struct {
	State          LookupState
	ConversationID ids.ID
}

func FoundLookup(id ids.ID) Lookup {
	return Lookup{State: Found, ConversationID: id}
}

func NotFoundLookup() Lookup {
	return Lookup{State: NotFound}
}

func (l Lookup) Encode() string {
	switch l.State {
	case Found:
		return foundPrefix + l.ConversationID.String()
	case NotFound:
		return notFound
	default:
		return ""
	}
}

// DecodeLookup parses a cached value. Anything unrecognised decodes as Absent so it is recomputed.
func DecodeLookup(v string) Lookup {
	if v == notFound {
		return NotFoundLookup()
	}
	if strings.HasPrefix(v, foundPrefix) {
		id, err := ids.ParseID(strings.TrimPrefix(v, foundPrefix))
		if err != nil {
			return Lookup{State: Absent}
		}
		return FoundLookup(id)
	}
	return Lookup{State: Absent}
}
