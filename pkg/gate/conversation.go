package gate

import (
	"context"
	"fmt"

	"github.com/airlock-labs/airlock/pkg/store"
)

// Category is the coarse disposition of an incoming message. The gate only
// engages for action requests; queries and chat pass through untouched.
type Category string

const (
	CategoryAction Category = "action"
	CategoryQuery  Category = "query"
	CategoryChat   Category = "chat"
)

// CategoryExtractor labels an incoming message. Implementations must be
// deterministic for testability; pkg/classify ships the default.
type CategoryExtractor interface {
	Category(message string) Category
}

// Reply is the reading of a message that may answer a pending preview.
type Reply string

const (
	ReplyAffirm Reply = "affirm"
	ReplyDeny   Reply = "deny"
	ReplyOther  Reply = "other"
)

// ReplyReader interprets a confirmation reply.
type ReplyReader interface {
	Read(message string) Reply
}

// TurnDisposition says what a message turned out to be.
type TurnDisposition string

const (
	// TurnConfirmed means the message affirmed the pending intent.
	TurnConfirmed TurnDisposition = "confirmed"
	// TurnDeclined means the message declined the pending intent.
	TurnDeclined TurnDisposition = "declined"
	// TurnNeedsProposal means the message is an action request: the caller
	// should run its proposer and then call Propose.
	TurnNeedsProposal TurnDisposition = "needs_proposal"
	// TurnPassthrough means the gate has no business with this message.
	TurnPassthrough TurnDisposition = "passthrough"
)

// TurnResult is the routing decision for one message.
type TurnResult struct {
	Disposition     TurnDisposition `json:"disposition"`
	PendingIntentID string          `json:"pending_intent_id,omitempty"`
	Confirm         *ConfirmResult  `json:"confirm,omitempty"`
	Decline         *DeclineResult  `json:"decline,omitempty"`
}

// Conversation routes raw messages around the gate. A message that answers
// a pending preview resolves it; an action request is handed back for
// proposing; anything else passes through.
type Conversation struct {
	ctrl       *Controller
	intents    store.IntentStore
	categories CategoryExtractor
	replies    ReplyReader
}

// NewConversation wires the message router.
func NewConversation(ctrl *Controller, intents store.IntentStore, categories CategoryExtractor, replies ReplyReader) *Conversation {
	return &Conversation{ctrl: ctrl, intents: intents, categories: categories, replies: replies}
}

// PendingIntent returns the session's most recent pending intent, or nil.
// This is a store query every time: there is no in-memory pointer to lose
// across restarts or to go stale behind a concurrent transition.
func (c *Conversation) PendingIntent(ctx context.Context, sessionID string) (*store.Intent, error) {
	list, err := c.intents.List(ctx, store.Filter{
		SessionID: sessionID,
		Status:    store.StatusPending,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("gate: pending lookup: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// HandleMessage routes one message. When a pending intent exists and the
// message reads as an affirmation or denial, it confirms or declines that
// intent; otherwise the message is categorized and handed back.
func (c *Conversation) HandleMessage(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	pending, err := c.PendingIntent(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		switch c.replies.Read(message) {
		case ReplyAffirm:
			out, err := c.ctrl.Confirm(ctx, sessionID, pending.IntentID)
			if err != nil {
				return nil, err
			}
			return &TurnResult{
				Disposition:     TurnConfirmed,
				PendingIntentID: pending.IntentID,
				Confirm:         out,
			}, nil
		case ReplyDeny:
			out, err := c.ctrl.Decline(ctx, sessionID, pending.IntentID)
			if err != nil {
				return nil, err
			}
			return &TurnResult{
				Disposition:     TurnDeclined,
				PendingIntentID: pending.IntentID,
				Decline:         out,
			}, nil
		}
		// Not a recognized reply: the preview stays pending and the message
		// is routed like any other.
	}

	res := &TurnResult{Disposition: TurnPassthrough}
	if pending != nil {
		res.PendingIntentID = pending.IntentID
	}
	if c.categories.Category(message) == CategoryAction {
		res.Disposition = TurnNeedsProposal
	}
	return res, nil
}
