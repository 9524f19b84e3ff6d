package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parley-chat/parley/governor"
	"github.com/parley-chat/parley/governor/config"

	"github.com/araddon/dateparse"
	"go.opentelemetry.io/otel/attribute"
)

// One line read from the host. Op defaults to "message"; the other fields are used as each op needs them.
type request struct {
	Op string `json:"op"`
	// echoed back on the response frame
	ID string `json:"id"`

	Sender  string `json:"sender"`
	Channel string `json:"channel"`
	Text    string `json:"text"`

	Title  string `json:"title"`
	Ticket int64  `json:"ticket"`
	Post   string `json:"post"`

	// any common date format; zone-less times are UTC
	At              string `json:"at"`
	Recurring       bool   `json:"recurring"`
	IntervalMinutes int    `json:"interval_minutes"`
	Scheduled       string `json:"scheduled"`
	Urgent          bool   `json:"urgent"`

	// join only
	Name         string        `json:"name"`
	Group        string        `json:"group"`
	Capabilities []string      `json:"capabilities"`
	Holdings     []config.Item `json:"holdings"`

	// replay only: the clock is moved to this time before the request is handled
	Time *time.Time `json:"time"`
}

func (s *Server) handleLine(ctx context.Context, line []byte) frame {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		requestsFailed.WithLabelValues("decode", string(governor.ReasonInvalidRequest)).Inc()
		return frame{Type: "error", Reason: string(governor.ReasonInvalidRequest), Error: fmt.Sprintf("malformed request: %v", err)}
	}
	if req.Op == "" {
		req.Op = "message"
	}
	if req.Time != nil {
		s.advance(ctx, *req.Time)
	}
	return s.Handle(ctx, req)
}

func (s *Server) Handle(ctx context.Context, req request) frame {
	ctx, span := tracer.Start(ctx, "HandleRequest")
	defer span.End()
	span.SetAttributes(attribute.String("op", req.Op))
	requestsReceived.WithLabelValues(req.Op).Inc()

	data, err := s.dispatch(ctx, req)
	if err != nil {
		if rej, ok := governor.AsRejection(err); ok {
			requestsFailed.WithLabelValues(req.Op, string(rej.Reason)).Inc()
			return frame{Type: "rejected", ID: req.ID, Reason: string(rej.Reason), Error: rej.Message}
		}
		requestsFailed.WithLabelValues(req.Op, "error").Inc()
		s.logger.Warn("request failed", "op", req.Op, "err", err)
		return frame{Type: "error", ID: req.ID, Error: err.Error()}
	}
	if res, ok := data.(*governor.ProcessedMessageResult); ok {
		return frame{Type: "result", ID: req.ID, Result: res}
	}
	return frame{Type: "ok", ID: req.ID, Data: data}
}

var (
	errUnknownOp   = errors.New("unknown op")
	errRateLimited = governor.Reject("rate_limited", "too many requests, slow down")
)

func (s *Server) dispatch(ctx context.Context, req request) (any, error) {
	if req.Sender == "" && req.Op != "reload" {
		return nil, governor.Reject(governor.ReasonInvalidRequest, "request has no sender")
	}
	sender := s.sender(req.Sender)
	if !s.limiter.Allow(req.Op, sender.ID) {
		return nil, errRateLimited
	}

	switch req.Op {
	case "message":
		return s.gov.ProcessMessage(ctx, sender, req.Channel, req.Text), nil
	case "join":
		name := req.Name
		if name == "" {
			name = sender.Name
		}
		p := config.Player{ID: req.Sender, Name: name, Group: req.Group, Capabilities: req.Capabilities, Holdings: req.Holdings}
		s.dir.Join(p)
		s.gov.PurgeGroup(p.ID)
		return nil, nil
	case "leave":
		if !s.dir.Leave(req.Sender) {
			return nil, governor.Reject(governor.ReasonInvalidRequest, "%s is not online", req.Sender)
		}
		s.limiter.Forget(req.Sender)
		return nil, nil
	case "ticket":
		return s.gov.Help.CreateTicket(ctx, sender, req.Title, req.Text)
	case "ticket-assign":
		return s.gov.Help.Assign(ctx, sender, req.Ticket)
	case "ticket-respond":
		return s.gov.Help.Respond(ctx, sender, req.Ticket, req.Text)
	case "ticket-resolve":
		return s.gov.Help.Resolve(ctx, sender, req.Ticket)
	case "ticket-close":
		return s.gov.Help.Close(ctx, sender, req.Ticket)
	case "tickets":
		return s.gov.Help.TicketsFor(sender.ID), nil
	case "schedule":
		if err := s.requireAnnouncer(ctx, sender); err != nil {
			return nil, err
		}
		at, err := dateparse.ParseIn(req.At, time.UTC)
		if err != nil {
			return nil, governor.Reject(governor.ReasonInvalidRequest, "unrecognized time %q", req.At)
		}
		return s.gov.Event.ScheduleMessage(sender, req.Text, at, req.Recurring, req.IntervalMinutes)
	case "cancel-schedule":
		if err := s.requireAnnouncer(ctx, sender); err != nil {
			return nil, err
		}
		return nil, s.gov.Event.CancelScheduled(req.Scheduled)
	case "announce":
		return nil, s.gov.Event.CreateAnnouncement(ctx, sender, req.Text, req.Urgent)
	case "cancel-post":
		return nil, s.gov.Trade.CancelPost(sender.ID, req.Post)
	case "posts":
		return s.gov.Trade.Posts(req.Channel), nil
	case "reload":
		return nil, s.reload()
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownOp, req.Op)
	}
}

// Resolves a display name for the sender from the host directory; unknown senders go by their id.
func (s *Server) sender(id string) governor.Sender {
	if p, ok := s.dir.Known(id); ok {
		return governor.Sender{ID: id, Name: p.Name}
	}
	return governor.Sender{ID: id, Name: id}
}

func (s *Server) requireAnnouncer(ctx context.Context, sender governor.Sender) error {
	capability := s.rules.Rules().Event.AnnounceCapability
	if !s.dir.Has(ctx, sender, capability) {
		return governor.Reject(governor.ReasonPermissionRequired, "scheduling requires %s", capability)
	}
	return nil
}
