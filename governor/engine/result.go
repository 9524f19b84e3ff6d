package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/parley-chat/parley/governor/config"
)

type RejectReason string

const (
	ReasonAccessDenied       RejectReason = "access_denied"
	ReasonMessageTooLong     RejectReason = "message_too_long"
	ReasonMentionNotAllowed  RejectReason = "mention_not_allowed"
	ReasonMentionCooldown    RejectReason = "mention_cooldown"
	ReasonMissingKeyword     RejectReason = "missing_trade_keyword"
	ReasonTicketQuota        RejectReason = "ticket_quota_exceeded"
	ReasonScheduleInPast     RejectReason = "schedule_in_past"
	ReasonAnnounceDenied     RejectReason = "announce_denied"
	ReasonAnnounceCooldown   RejectReason = "announce_cooldown"
	ReasonInvalidRequest     RejectReason = "invalid_request"
	ReasonPermissionRequired RejectReason = "permission_required"
)

// An expected, user-facing refusal. Blocks only the message or request it was raised for.
type Rejection struct {
	Reason  RejectReason `json:"reason"`
	Message string       `json:"message"`
	// name of the pipeline stage which rejected, if raised inside the pipeline
	Stage string `json:"stage,omitempty"`
}

func (r *Rejection) Error() string {
	if r.Stage != "" {
		return fmt.Sprintf("%s: %s (%s)", r.Stage, r.Message, r.Reason)
	}
	return fmt.Sprintf("%s (%s)", r.Message, r.Reason)
}

func Reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

type DetectedPrice struct {
	// matched text, as it appeared in the original message
	Raw   string  `json:"raw"`
	Value float64 `json:"value"`
	// byte offsets in the original message; End is exclusive
	Start int `json:"start"`
	End   int `json:"end"`
}

type MentionData struct {
	MentionedEveryone bool `json:"mentioned_everyone"`
	MentionedStaff    bool `json:"mentioned_staff"`
	// canonical display names of the online players mentioned, each listed once
	MentionedPlayers []string `json:"mentioned_players,omitempty"`
}

type TradeData struct {
	Prices       []DetectedPrice `json:"prices,omitempty"`
	HasItemLinks bool            `json:"has_item_links"`
	// set when the message registered an auto-expiring trade post
	PostID    string    `json:"post_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type HelpData struct {
	IsHelpRequest   bool             `json:"is_help_request"`
	FAQ             *config.FAQEntry `json:"faq,omitempty"`
	StaffNotified   bool             `json:"staff_notified"`
	TicketSuggested bool             `json:"ticket_suggested"`
}

type EventData struct {
	IsAnnouncement bool `json:"is_announcement"`
}

// Engine-agnostic outcome of processing one message, for a downstream renderer or transport.
type ProcessedMessageResult struct {
	Valid     bool       `json:"valid"`
	Rejection *Rejection `json:"rejection,omitempty"`

	SenderID  string `json:"sender_id"`
	ChannelID string `json:"channel_id"`
	Group     string `json:"group"`

	OriginalText string `json:"original_text"`
	// cumulative rewritten output of every accepting stage
	Text string `json:"text"`

	Mentions *MentionData `json:"mentions,omitempty"`
	Trade    *TradeData   `json:"trade,omitempty"`
	Help     *HelpData    `json:"help,omitempty"`
	Event    *EventData   `json:"event,omitempty"`

	// stages which failed internally and were skipped
	Degraded []string `json:"degraded,omitempty"`
}
