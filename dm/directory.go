package dm

import (
	"fmt"

	"github.com/meow-io/go-parley/ids"
)

// Directory supplies display handles for user ids. parley never authenticates users; handles are
// used for presentation only.
type Directory interface {
	Handle(userID ids.ID) (string, error)
}

type idDirectory struct{}

// A directory rendering every user as its id.
func IDDirectory() Directory {
	return idDirectory{}
}

func (idDirectory) Handle(userID ids.ID) (string, error) {
	return userID.String(), nil
}

// A fixed mapping of user ids to handles.
type StaticDirectory map[ids.ID]string

func (sd StaticDirectory) Handle(userID ids.ID) (string, error) {
	h, ok := sd[userID]
	if !ok {
		return "", fmt.Errorf("dm: no handle for user %s", userID)
	}
	return h, nil
}
