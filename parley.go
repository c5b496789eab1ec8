// This package provides a high-level interface to parley. It owns the encrypted database and the view
// cache, and runs every direct-messaging operation in its own transaction.
package parley

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/cache/memory"
	"github.com/meow-io/go-parley/cache/redis"
	"github.com/meow-io/go-parley/cache/valkey"
	"github.com/meow-io/go-parley/clock"
	"github.com/meow-io/go-parley/config"
	"github.com/meow-io/go-parley/dm"
	"github.com/meow-io/go-parley/ids"
	"github.com/meow-io/go-parley/internal/db"
	"go.uber.org/zap"
)

const (
	// Constants for application state.
	StateNew = iota
	StateInitialized
	StateRunning
)

var ErrNotRunning = errors.New("parley: not running")

type Parley struct {
	DB        *db.Database
	config    *config.Config
	log       *zap.SugaredLogger
	state     int
	clock     clock.Clock
	directory dm.Directory
	cache     cache.Cache
	dm        *dm.Manager
}

// Create a parley instance. directory supplies display handles and may be nil.
func NewParley(c *config.Config, directory dm.Directory) (*Parley, error) {
	log := c.Logger("")
	absRootPath, err := filepath.Abs(c.RootDir)
	if err != nil {
		return nil, err
	}
	c.RootDir = absRootPath
	if c.CacheNamespace == "" {
		c.CacheNamespace = defaultCacheNamespace(c.DatabasePath())
	}
	log.Debugf("making parley, using root path of %s and cache namespace %s", c.RootDir, c.CacheNamespace)

	if err := os.MkdirAll(c.RootDir, 0o700); err != nil {
		return nil, err
	}
	d, err := db.NewDatabase(c, c.DatabasePath())
	if err != nil {
		return nil, err
	}

	state := StateNew
	if d.Initialized() {
		state = StateInitialized
	}

	return &Parley{
		DB:        d,
		config:    c,
		log:       log,
		state:     state,
		clock:     clock.NewSystemClock(),
		directory: directory,
	}, nil
}

// Makes a key from a password
func (p *Parley) NewKey(password string) ([]byte, error) {
	return newKey(password, p.config.RootDir, "salt")
}

// Returns true if parley is in NEW state.
func (p *Parley) New() bool {
	return p.state == StateNew
}

// Returns true if parley is in INITIALIZED state.
func (p *Parley) Initialized() bool {
	return p.state == StateInitialized
}

// Returns true if parley is in RUNNING state.
func (p *Parley) Running() bool {
	return p.state == StateRunning
}

// Initialize parley with a given key and open it.
func (p *Parley) Initialize(key []byte) error {
	if p.state != StateNew {
		return errors.New("parley: cannot initialize unless in state new")
	}
	if err := p.DB.Initialize(key); err != nil {
		return err
	}
	p.setState(StateInitialized)
	return p.Open(key)
}

// Open an existing parley with a given key.
func (p *Parley) Open(key []byte) error {
	if p.state != StateInitialized {
		return errors.New("parley: cannot open unless in state initialized")
	}

	ch, err := newCache(p.config, p.clock)
	if err != nil {
		return err
	}
	if err := p.DB.Open(key); err != nil {
		_ = ch.Close()
		return err
	}

	if err := p.DB.Lock("initializing subsystems", func() error {
		m, err := dm.NewManager(p.config, p.DB, ch, p.clock, p.directory)
		if err != nil {
			return err
		}
		p.dm = m
		return nil
	}); err != nil {
		_ = ch.Close()
		_ = p.DB.Shutdown()
		return err
	}

	p.cache = ch
	p.setState(StateRunning)
	return nil
}

func (p *Parley) Shutdown() error {
	if p.state != StateRunning {
		return nil
	}

	errs := make([]string, 0)
	if err := p.DB.Shutdown(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := p.cache.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) != 0 {
		return fmt.Errorf("error during shutdown: %s", strings.Join(errs, ", "))
	}

	p.cache = nil
	p.dm = nil
	p.setState(StateInitialized)
	return nil
}

// Send body from sender to the conversation holding exactly sender and recipients, starting it if needed.
func (p *Parley) SendToUsers(body string, sender ids.ID, recipients []ids.ID) (*dm.Message, error) {
	var msg *dm.Message
	return msg, p.run("send to users", func() error {
		var err error
		msg, err = p.dm.SendToUsers(body, sender, recipients)
		return err
	})
}

// Send body from sender into a conversation, adding newParticipants first. Adding to a private
// conversation sends into the group conversation of the combined participants instead.
func (p *Parley) SendToConversation(body string, sender, conversationID ids.ID, newParticipants []ids.ID) (*dm.Message, error) {
	var msg *dm.Message
	return msg, p.run(fmt.Sprintf("send to %s", conversationID), func() error {
		var err error
		msg, err = p.dm.SendToConversation(body, sender, conversationID, newParticipants)
		return err
	})
}

// Find or start the conversation for sender and recipients without sending anything.
func (p *Parley) ResolveForSend(sender ids.ID, recipients []ids.ID) (*dm.Conversation, error) {
	var c *dm.Conversation
	return c, p.run("resolve conversation", func() error {
		var err error
		c, err = p.dm.ResolveForSend(sender, recipients)
		return err
	})
}

// The conversation whose active participants are exactly participants, or nil.
func (p *Parley) FindConversation(participants []ids.ID) (*dm.Conversation, error) {
	var c *dm.Conversation
	return c, p.runReadOnly("find conversation", func() error {
		var err error
		c, err = p.dm.FindConversation(participants)
		return err
	})
}

func (p *Parley) Conversation(id ids.ID) (*dm.Conversation, error) {
	var c *dm.Conversation
	return c, p.runReadOnly("get conversation", func() error {
		var err error
		c, err = p.dm.Conversation(id)
		return err
	})
}

// Messages of a conversation, newest first, marking it read for userID.
func (p *Parley) ReadConversation(conversationID, userID ids.ID) ([]*dm.Message, error) {
	var msgs []*dm.Message
	return msgs, p.run(fmt.Sprintf("read %s", conversationID), func() error {
		var err error
		msgs, err = p.dm.ReadConversation(conversationID, userID)
		return err
	})
}

// Messages of a conversation, newest first, without touching read state.
func (p *Parley) Messages(conversationID ids.ID) ([]*dm.Message, error) {
	var msgs []*dm.Message
	return msgs, p.runReadOnly("get messages", func() error {
		var err error
		msgs, err = p.dm.Messages(conversationID)
		return err
	})
}

func (p *Parley) Inbox(userID ids.ID) ([]*dm.InboxEntry, error) {
	var entries []*dm.InboxEntry
	return entries, p.runReadOnly("get inbox", func() error {
		var err error
		entries, err = p.dm.Inbox(userID)
		return err
	})
}

func (p *Parley) Leave(conversationID, userID ids.ID) error {
	return p.run(fmt.Sprintf("leave %s", conversationID), func() error {
		return p.dm.Leave(conversationID, userID)
	})
}

func (p *Parley) Reinstate(conversationID, userID ids.ID) error {
	return p.run(fmt.Sprintf("reinstate %s", conversationID), func() error {
		return p.dm.Reinstate(conversationID, userID)
	})
}

func (p *Parley) Participants(conversationID ids.ID) ([]ids.ID, error) {
	var users []ids.ID
	return users, p.runReadOnly("get participants", func() error {
		var err error
		users, err = p.dm.Participants(conversationID)
		return err
	})
}

func (p *Parley) ParticipantHandles(conversationID ids.ID) ([]string, error) {
	var handles []string
	return handles, p.runReadOnly("get participant handles", func() error {
		var err error
		handles, err = p.dm.ParticipantHandles(conversationID)
		return err
	})
}

func (p *Parley) Participations(conversationID ids.ID) ([]*dm.Participation, error) {
	var ps []*dm.Participation
	return ps, p.runReadOnly("get participations", func() error {
		var err error
		ps, err = p.dm.Participations(conversationID)
		return err
	})
}

func (p *Parley) run(label string, runner db.RunnerFunc) error {
	if p.state != StateRunning {
		return ErrNotRunning
	}
	return p.DB.Run(label, runner)
}

func (p *Parley) runReadOnly(label string, runner db.RunnerFunc) error {
	if p.state != StateRunning {
		return ErrNotRunning
	}
	return p.DB.RunReadOnly(label, runner)
}

func (p *Parley) setState(state int) {
	p.log.Debugf("changing state from %d to %d", p.state, state)
	p.state = state
}

// Namespace for the cache keys of the database at path, stable across restarts.
func defaultCacheNamespace(path string) string {
	return fmt.Sprintf("parley-%016x", xxhash.Sum64String(path))
}

func newCache(c *config.Config, cl clock.Clock) (cache.Cache, error) {
	switch c.CacheBackend {
	case "", config.CacheBackendMemory:
		return memory.New(cl, c.CacheSize, c.CacheTTL), nil
	case config.CacheBackendRedis:
		return redis.New(context.Background(), c.CacheURL)
	case config.CacheBackendValkey:
		return valkey.New(context.Background(), strings.Split(c.CacheURL, ",")...)
	default:
		return nil, fmt.Errorf("parley: unknown cache backend %q", c.CacheBackend)
	}
}
