package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/parley-chat/parley/governor/config"
)

// In-memory collaborators for tests.

type MockGroups struct {
	mu     sync.Mutex
	Groups map[string]string
	Err    error
	Calls  int
}

var _ GroupResolver = (*MockGroups)(nil)

func NewMockGroups() *MockGroups {
	return &MockGroups{Groups: make(map[string]string)}
}

func (m *MockGroups) Set(senderID, group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Groups[senderID] = group
}

func (m *MockGroups) GroupOf(ctx context.Context, s Sender) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	return m.Groups[s.ID], nil
}

type MockPerms struct {
	mu   sync.Mutex
	Caps map[string]map[string]bool
}

var _ PermissionChecker = (*MockPerms)(nil)

func NewMockPerms() *MockPerms {
	return &MockPerms{Caps: make(map[string]map[string]bool)}
}

func (m *MockPerms) Grant(senderID string, caps ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.Caps[senderID]
	if !ok {
		set = make(map[string]bool)
		m.Caps[senderID] = set
	}
	for _, c := range caps {
		set[c] = true
	}
}

func (m *MockPerms) Has(ctx context.Context, s Sender, capability string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Caps[s.ID][capability]
}

// Session which records every message sent to it.
type MockSession struct {
	SessionID   string
	SessionName string
	Items       []config.Item
	// when non-nil, returned from every Send
	SendErr error

	mu   sync.Mutex
	sent []string
}

var _ Session = (*MockSession)(nil)

func (s *MockSession) ID() string              { return s.SessionID }
func (s *MockSession) Name() string            { return s.SessionName }
func (s *MockSession) Holdings() []config.Item { return s.Items }

func (s *MockSession) Send(ctx context.Context, text string) error {
	if s.SendErr != nil {
		return s.SendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *MockSession) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type MockDirectory struct {
	mu     sync.RWMutex
	byName map[string]*MockSession
	byID   map[string]*MockSession
}

var _ OnlinePlayerDirectory = (*MockDirectory)(nil)

func NewMockDirectory() *MockDirectory {
	return &MockDirectory{
		byName: make(map[string]*MockSession),
		byID:   make(map[string]*MockSession),
	}
}

func (d *MockDirectory) Insert(s *MockSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byName[strings.ToLower(s.SessionName)] = s
	d.byID[s.SessionID] = s
}

// Marks a player offline.
func (d *MockDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.byID[id]; ok {
		delete(d.byName, strings.ToLower(s.SessionName))
		delete(d.byID, id)
	}
}

func (d *MockDirectory) Lookup(name string) (Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return s, true
}

func (d *MockDirectory) ByID(id string) (Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (d *MockDirectory) Online() []Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Session, 0, len(d.byID))
	for _, s := range d.byID {
		out = append(out, s)
	}
	return out
}

type BroadcastRecord struct {
	ChannelID string
	Text      string
}

type MockBroadcaster struct {
	mu   sync.Mutex
	sent []BroadcastRecord
	Err  error
}

var _ Broadcaster = (*MockBroadcaster)(nil)

func (b *MockBroadcaster) Broadcast(ctx context.Context, channelID, text string) error {
	if b.Err != nil {
		return b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, BroadcastRecord{ChannelID: channelID, Text: text})
	return nil
}

func (b *MockBroadcaster) Sent() []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BroadcastRecord(nil), b.sent...)
}

type MockRelay struct {
	mu       sync.Mutex
	Relayed  []*ProcessedMessageResult
	Err      error
	Attempts int
}

func (r *MockRelay) Relay(ctx context.Context, res *ProcessedMessageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Attempts++
	if r.Err != nil {
		return r.Err
	}
	r.Relayed = append(r.Relayed, res)
	return nil
}

// Manually advanced clock.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Stage with scripted behavior, for exercising the pipeline itself.
type FuncStage struct {
	StageName string
	Fn        func(c *MessageContext) error
}

func (s FuncStage) Name() string                    { return s.StageName }
func (s FuncStage) Process(c *MessageContext) error { return s.Fn(c) }

// Directory and permissions populated from the static player list in the rule table.
func FixturesFromRules(rules *config.Rules) (*MockDirectory, *MockGroups, *MockPerms) {
	dir := NewMockDirectory()
	groups := NewMockGroups()
	perms := NewMockPerms()
	for _, p := range rules.Players {
		if p.ID == "" || p.Name == "" {
			continue
		}
		dir.Insert(&MockSession{SessionID: p.ID, SessionName: p.Name, Items: p.Holdings})
		if p.Group != "" {
			groups.Set(p.ID, p.Group)
		}
		perms.Grant(p.ID, p.Capabilities...)
	}
	return dir, groups, perms
}
