package main

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/parley-chat/parley/governor"
	"github.com/parley-chat/parley/governor/config"
)

// One line written to the host. Type is one of: result, ok, rejected, error, deliver, broadcast.
type frame struct {
	Type    string                           `json:"type"`
	ID      string                           `json:"id,omitempty"`
	To      string                           `json:"to,omitempty"`
	Channel string                           `json:"channel,omitempty"`
	Text    string                           `json:"text,omitempty"`
	Result  *governor.ProcessedMessageResult `json:"result,omitempty"`
	Data    any                              `json:"data,omitempty"`
	Reason  string                           `json:"reason,omitempty"`
	Error   string                           `json:"error,omitempty"`
}

// Serializes frames from the request loop and the maintenance loops onto a single stream.
type output struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newOutput(w io.Writer) *output {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &output{enc: enc}
}

func (o *output) write(f frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enc.Encode(f)
}

// A player connected through the host. Deliveries are written as frames addressed to the player id.
type hostSession struct {
	player config.Player
	out    *output
}

var _ governor.Session = (*hostSession)(nil)

func (s *hostSession) ID() string              { return s.player.ID }
func (s *hostSession) Name() string            { return s.player.Name }
func (s *hostSession) Holdings() []config.Item { return s.player.Holdings }

func (s *hostSession) Send(ctx context.Context, text string) error {
	return s.out.write(frame{Type: "deliver", To: s.player.ID, Text: text})
}

type hostBroadcaster struct {
	out *output
}

var _ governor.Broadcaster = (*hostBroadcaster)(nil)

func (b *hostBroadcaster) Broadcast(ctx context.Context, channelID, text string) error {
	return b.out.write(frame{Type: "broadcast", Channel: channelID, Text: text})
}

// Tracks which players are online, and is the daemon's source of groups and capabilities. Players seen once stay known after they leave, so requests naming them still carry a display name and their permissions.
type hostDirectory struct {
	out *output

	mu     sync.RWMutex
	known  map[string]config.Player
	byID   map[string]*hostSession
	byName map[string]*hostSession
}

var (
	_ governor.OnlinePlayerDirectory = (*hostDirectory)(nil)
	_ governor.GroupResolver         = (*hostDirectory)(nil)
	_ governor.PermissionChecker     = (*hostDirectory)(nil)
)

func newHostDirectory(out *output) *hostDirectory {
	return &hostDirectory{
		out:    out,
		known:  make(map[string]config.Player),
		byID:   make(map[string]*hostSession),
		byName: make(map[string]*hostSession),
	}
}

// Replaces everything known about the player, group and capabilities included.
func (d *hostDirectory) Join(p config.Player) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.byID[p.ID]; ok {
		delete(d.byName, strings.ToLower(old.player.Name))
	}
	p.Capabilities = slices.Clone(p.Capabilities)
	sess := &hostSession{player: p, out: d.out}
	d.known[p.ID] = p
	d.byID[p.ID] = sess
	d.byName[strings.ToLower(p.Name)] = sess
}

func (d *hostDirectory) Leave(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.byID[id]
	if !ok {
		return false
	}
	delete(d.byID, id)
	delete(d.byName, strings.ToLower(sess.player.Name))
	return true
}

func (d *hostDirectory) Known(id string) (config.Player, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.known[id]
	return p, ok
}

// Unknown senders have no group, and get the default one.
func (d *hostDirectory) GroupOf(ctx context.Context, s governor.Sender) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.known[s.ID].Group, nil
}

func (d *hostDirectory) Has(ctx context.Context, s governor.Sender, capability string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.known[s.ID]
	return ok && capability != "" && slices.Contains(p.Capabilities, capability)
}

func (d *hostDirectory) Lookup(name string) (governor.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sess, ok := d.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return sess, true
}

func (d *hostDirectory) ByID(id string) (governor.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sess, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return sess, true
}

func (d *hostDirectory) Online() []governor.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]governor.Session, 0, len(d.byID))
	for _, sess := range d.byID {
		out = append(out, sess)
	}
	return out
}
