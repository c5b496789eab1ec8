// This package defines the common id type used throughout parley for conversations, messages and users.
// Ids are random 16 byte values; their canonical text form is the UUID encoding.
package ids

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

type ID [16]byte

var Nil ID

func IDFromBytes(b []byte) ID {
	return [16]byte(b)
}

// Like IDFromBytes but nil-safe for nullable columns.
func IDPtrFromBytes(b []byte) *ID {
	if b == nil {
		return nil
	}
	id := IDFromBytes(b)
	return &id
}

func NewID() ID {
	return ID(uuid.New())
}

func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("ids: invalid id %q: %w", s, err)
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) Bytes() []byte {
	return id[:]
}

func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

type ByLexicographical []ID

func (s ByLexicographical) Len() int           { return len(s) }
func (s ByLexicographical) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s ByLexicographical) Less(i, j int) bool { return bytes.Compare(s[i][:], s[j][:]) == -1 }

// Returns the distinct ids of in, sorted lexicographically.
func Unique(in []ID) []ID {
	seen := make(map[ID]struct{}, len(in))
	out := make([]ID, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Sort(ByLexicographical(out))
	return out
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
