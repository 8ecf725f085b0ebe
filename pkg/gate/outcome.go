package gate

import (
	"github.com/airlock-labs/airlock/pkg/audit"
	"github.com/airlock-labs/airlock/pkg/store"
	"github.com/airlock-labs/airlock/pkg/validate"
)

// Outcome is the disposition of a proposal.
type Outcome string

const (
	// OutcomeExecuted means the action ran immediately (non-sensitive path).
	OutcomeExecuted Outcome = "executed"
	// OutcomeAwaiting means a pending intent was created and the user must
	// confirm before anything runs.
	OutcomeAwaiting Outcome = "awaiting_confirmation"
	// OutcomeRejected means validation refused the proposal. Nothing was
	// persisted and nothing ran.
	OutcomeRejected Outcome = "rejected"
)

// ProposeResult is the answer to a proposal.
type ProposeResult struct {
	Outcome Outcome `json:"outcome"`

	// IntentID and Preview are set when Outcome is awaiting_confirmation.
	IntentID string `json:"intent_id,omitempty"`
	Preview  string `json:"preview,omitempty"`

	// Note and Succeeded report the immediate execution when Outcome is
	// executed.
	Note      string `json:"note,omitempty"`
	Succeeded bool   `json:"succeeded,omitempty"`

	// Failure names the violated constraint when Outcome is rejected.
	Failure *validate.Failure `json:"failure,omitempty"`
}

// ConfirmResult is the answer to a confirmation. Exactly one confirmation
// of an intent ever gets Confirmed=true; every other attempt receives the
// current status and a conflict explanation.
type ConfirmResult struct {
	Confirmed      bool           `json:"confirmed"`
	Status         store.Status   `json:"status,omitempty"`
	Note           string         `json:"note,omitempty"`
	ConflictReason string         `json:"conflict_reason,omitempty"`
	Receipt        *audit.Receipt `json:"receipt,omitempty"`
}

// DeclineResult is the answer to a decline.
type DeclineResult struct {
	Acknowledged   bool   `json:"acknowledged"`
	ConflictReason string `json:"conflict_reason,omitempty"`
}
