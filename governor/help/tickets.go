package help

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parley-chat/parley/governor/engine"
	"github.com/parley-chat/parley/governor/scheduler"
)

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrInvalidTransition = errors.New("invalid ticket status transition")
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
	StatusAutoClosed Status = "auto_closed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusClosed, StatusAutoClosed:
		return true
	}
	return false
}

// status only moves forward; terminal states have no exits
var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusResolved, StatusClosed, StatusAutoClosed},
	StatusInProgress: {StatusResolved, StatusClosed},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Response struct {
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Staff      bool      `json:"staff"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}

// A support request. Values handed out by the plugin are snapshots; changes go through the plugin methods.
type Ticket struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"owner_id"`
	OwnerName   string    `json:"owner_name"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// staff member id, once claimed
	AssignedTo string     `json:"assigned_to,omitempty"`
	Responses  []Response `json:"responses,omitempty"`
}

func (t *Ticket) clone() *Ticket {
	out := *t
	out.Responses = append([]Response(nil), t.Responses...)
	return &out
}

type AutoCloseTicket struct {
	ID int64
}

func (AutoCloseTicket) Kind() string { return "auto_close_ticket" }

// Opens a new ticket for the sender. Rejected when tickets are disabled, the title is empty, or the sender already has the maximum number of open tickets.
func (p *Plugin) CreateTicket(ctx context.Context, owner engine.Sender, title, description string) (*Ticket, error) {
	cfg := p.Rules.Rules().Help.Tickets
	if !cfg.Enabled {
		return nil, engine.Reject(engine.ReasonInvalidRequest, "the ticket system is disabled")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, engine.Reject(engine.ReasonInvalidRequest, "a ticket needs a title")
	}

	// the quota check and the increment are one atomic step per owner
	allowed := false
	p.active.Compute(owner.ID, func(n int, loaded bool) (int, bool) {
		if cfg.MaxPerPlayer > 0 && n >= cfg.MaxPerPlayer {
			return n, !loaded
		}
		allowed = true
		return n + 1, false
	})
	if !allowed {
		ticketsRejected.Inc()
		return nil, engine.Reject(engine.ReasonTicketQuota, "you already have %d open tickets", cfg.MaxPerPlayer)
	}

	now := p.now()
	t := &Ticket{
		ID:          p.lastID.Add(1),
		OwnerID:     owner.ID,
		OwnerName:   displayName(owner),
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.tickets.Store(t.ID, t)
	ticketsOpen.Inc()
	ticketTransitions.WithLabelValues(string(StatusOpen)).Inc()
	p.Logger.Info("ticket created", "ticket", t.ID, "owner", owner.ID)

	staffCap := p.Rules.Rules().Help.StaffCapability
	for _, sess := range p.onlineStaff(ctx, staffCap, owner.ID) {
		if err := sess.Send(ctx, fmt.Sprintf("[ticket #%d] %s opened: %s", t.ID, t.OwnerName, t.Title)); err != nil {
			p.Logger.Warn("failed to notify staff of ticket", "ticket", t.ID, "staff", sess.ID(), "err", err)
		}
	}
	return t.clone(), nil
}

// Applies fn to a private copy of the ticket and stores the result, atomically with respect to other updates of the same ticket.
func (p *Plugin) update(id int64, fn func(t *Ticket) error) (*Ticket, error) {
	var (
		out  *Ticket
		prev Status
		err  error
	)
	p.tickets.Compute(id, func(cur *Ticket, loaded bool) (*Ticket, bool) {
		if !loaded {
			err = ErrTicketNotFound
			return nil, true
		}
		next := cur.clone()
		prev = cur.Status
		if err = fn(next); err != nil {
			return cur, false
		}
		out = next
		return next, false
	})
	if err != nil {
		return nil, err
	}
	if !prev.Terminal() && out.Status.Terminal() {
		p.release(out.OwnerID)
	}
	if prev != out.Status {
		ticketTransitions.WithLabelValues(string(out.Status)).Inc()
	}
	return out.clone(), nil
}

func (p *Plugin) release(ownerID string) {
	p.active.Compute(ownerID, func(n int, loaded bool) (int, bool) {
		return n - 1, n <= 1
	})
	ticketsOpen.Dec()
}

func (p *Plugin) activeCount(ownerID string) int {
	n, _ := p.active.Load(ownerID)
	return n
}

func transition(t *Ticket, to Status, now time.Time) error {
	if !canTransition(t.Status, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

func (p *Plugin) requireStaff(ctx context.Context, actor engine.Sender) error {
	if !p.isStaff(ctx, actor) {
		return engine.Reject(engine.ReasonPermissionRequired, "only staff can do that")
	}
	return nil
}

// Staff claims a ticket: Open moves to InProgress, assigned to the actor.
func (p *Plugin) Assign(ctx context.Context, staff engine.Sender, id int64) (*Ticket, error) {
	if err := p.requireStaff(ctx, staff); err != nil {
		return nil, err
	}
	t, err := p.update(id, func(t *Ticket) error {
		if err := transition(t, StatusInProgress, p.now()); err != nil {
			return err
		}
		t.AssignedTo = staff.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assign ticket %d: %w", id, err)
	}
	p.tell(ctx, t.OwnerID, fmt.Sprintf("[ticket #%d] %s is now handling your ticket", t.ID, displayName(staff)))
	return t, nil
}

// Adds a response from the owner or a staff member. A staff response to an unclaimed ticket claims it.
func (p *Plugin) Respond(ctx context.Context, actor engine.Sender, id int64, text string) (*Ticket, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, engine.Reject(engine.ReasonInvalidRequest, "empty response")
	}
	staff := p.isStaff(ctx, actor)
	now := p.now()
	t, err := p.update(id, func(t *Ticket) error {
		if !staff && t.OwnerID != actor.ID {
			return engine.Reject(engine.ReasonPermissionRequired, "not your ticket")
		}
		if t.Status.Terminal() {
			return fmt.Errorf("%w: ticket is %s", ErrInvalidTransition, t.Status)
		}
		if staff && t.OwnerID != actor.ID && t.Status == StatusOpen {
			t.Status = StatusInProgress
			t.AssignedTo = actor.ID
		}
		t.Responses = append(t.Responses, Response{
			AuthorID:   actor.ID,
			AuthorName: displayName(actor),
			Staff:      staff,
			Text:       text,
			At:         now,
		})
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("respond to ticket %d: %w", id, err)
	}
	notice := fmt.Sprintf("[ticket #%d] %s: %s", t.ID, displayName(actor), text)
	if actor.ID == t.OwnerID {
		p.tell(ctx, t.AssignedTo, notice)
	} else {
		p.tell(ctx, t.OwnerID, notice)
	}
	return t, nil
}

func (p *Plugin) Resolve(ctx context.Context, staff engine.Sender, id int64) (*Ticket, error) {
	if err := p.requireStaff(ctx, staff); err != nil {
		return nil, err
	}
	t, err := p.update(id, func(t *Ticket) error {
		return transition(t, StatusResolved, p.now())
	})
	if err != nil {
		return nil, fmt.Errorf("resolve ticket %d: %w", id, err)
	}
	p.tell(ctx, t.OwnerID, fmt.Sprintf("[ticket #%d] resolved by %s", t.ID, displayName(staff)))
	return t, nil
}

// Closes a ticket on behalf of its owner or a staff member.
func (p *Plugin) Close(ctx context.Context, actor engine.Sender, id int64) (*Ticket, error) {
	staff := p.isStaff(ctx, actor)
	t, err := p.update(id, func(t *Ticket) error {
		if !staff && t.OwnerID != actor.ID {
			return engine.Reject(engine.ReasonPermissionRequired, "not your ticket")
		}
		return transition(t, StatusClosed, p.now())
	})
	if err != nil {
		return nil, fmt.Errorf("close ticket %d: %w", id, err)
	}
	if actor.ID != t.OwnerID {
		p.tell(ctx, t.OwnerID, fmt.Sprintf("[ticket #%d] closed by %s", t.ID, displayName(actor)))
	}
	return t, nil
}

func (p *Plugin) Ticket(id int64) (*Ticket, bool) {
	t, ok := p.tickets.Load(id)
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// All tickets owned by a player, including closed ones, oldest first.
func (p *Plugin) TicketsFor(ownerID string) []*Ticket {
	return p.collect(func(t *Ticket) bool { return t.OwnerID == ownerID })
}

// Tickets which are Open or InProgress, oldest first.
func (p *Plugin) OpenTickets() []*Ticket {
	return p.collect(func(t *Ticket) bool { return !t.Status.Terminal() })
}

func (p *Plugin) collect(keep func(t *Ticket) bool) []*Ticket {
	var out []*Ticket
	p.tickets.Range(func(_ int64, t *Ticket) bool {
		if keep(t) {
			out = append(out, t.clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Plugin) sweepStale(now time.Time) []scheduler.Command {
	after := p.Rules.Rules().Help.Tickets.AutoCloseAfter
	if after <= 0 {
		return nil
	}
	var cmds []scheduler.Command
	p.tickets.Range(func(id int64, t *Ticket) bool {
		if t.Status == StatusOpen && now.Sub(t.UpdatedAt) >= after {
			cmds = append(cmds, AutoCloseTicket{ID: id})
		}
		return true
	})
	return cmds
}

func (p *Plugin) handle(ctx context.Context, cmd scheduler.Command) error {
	switch c := cmd.(type) {
	case AutoCloseTicket:
		return p.autoClose(ctx, c.ID)
	default:
		return scheduler.UnknownCommand(cmd)
	}
}

// Re-checks the inactivity window under the update, so a ticket touched since the sweep is left alone.
func (p *Plugin) autoClose(ctx context.Context, id int64) error {
	after := p.Rules.Rules().Help.Tickets.AutoCloseAfter
	now := p.now()
	stale := false
	t, err := p.update(id, func(t *Ticket) error {
		if t.Status != StatusOpen || after <= 0 || now.Sub(t.UpdatedAt) < after {
			return nil
		}
		stale = true
		return transition(t, StatusAutoClosed, now)
	})
	if errors.Is(err, ErrTicketNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}
	p.Logger.Info("ticket auto-closed", "ticket", id, "owner", t.OwnerID)
	p.tell(ctx, t.OwnerID, fmt.Sprintf("[ticket #%d] closed after %s without activity", t.ID, after))
	return nil
}
