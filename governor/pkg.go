package governor

import (
	"github.com/parley-chat/parley/governor/engine"
)

type Pipeline = engine.Pipeline
type MessageContext = engine.MessageContext
type ProcessedMessageResult = engine.ProcessedMessageResult
type Rejection = engine.Rejection
type RejectReason = engine.RejectReason
type Stage = engine.Stage
type Sender = engine.Sender

type GroupResolver = engine.GroupResolver
type PermissionChecker = engine.PermissionChecker
type OnlinePlayerDirectory = engine.OnlinePlayerDirectory
type Session = engine.Session
type ItemCatalog = engine.ItemCatalog
type Broadcaster = engine.Broadcaster
type Relay = engine.Relay

var (
	ReasonAccessDenied       = engine.ReasonAccessDenied
	ReasonMessageTooLong     = engine.ReasonMessageTooLong
	ReasonMentionNotAllowed  = engine.ReasonMentionNotAllowed
	ReasonMentionCooldown    = engine.ReasonMentionCooldown
	ReasonMissingKeyword     = engine.ReasonMissingKeyword
	ReasonTicketQuota        = engine.ReasonTicketQuota
	ReasonScheduleInPast     = engine.ReasonScheduleInPast
	ReasonAnnounceDenied     = engine.ReasonAnnounceDenied
	ReasonAnnounceCooldown   = engine.ReasonAnnounceCooldown
	ReasonInvalidRequest     = engine.ReasonInvalidRequest
	ReasonPermissionRequired = engine.ReasonPermissionRequired

	Reject      = engine.Reject
	AsRejection = engine.AsRejection
)
