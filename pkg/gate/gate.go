// Package gate decides what happens to each proposed action: run it now,
// park it behind an explicit confirmation, or reject it before anything is
// persisted. Sensitive actions become durable intents; the store's guarded
// transitions make sure each intent executes at most once no matter how
// many confirmations race.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/airlock-labs/airlock/pkg/audit"
	"github.com/airlock-labs/airlock/pkg/catalog"
	"github.com/airlock-labs/airlock/pkg/store"
	"github.com/airlock-labs/airlock/pkg/validate"
)

// DefaultExecutionTimeout bounds a single executor call. Intents whose
// process dies mid-execution are reclaimed by the sweeper instead.
const DefaultExecutionTimeout = 10 * time.Minute

// declinedNote is stored on intents the user cancelled.
const declinedNote = "declined by user"

// Controller runs proposals through validation and the confirmation
// lifecycle. It holds no per-intent state of its own: everything durable
// lives in the IntentStore, so any number of controller instances can serve
// the same store.
type Controller struct {
	catalog   *catalog.Catalog
	contracts *validate.ContractValidator
	contexts  *validate.ContextValidator
	intents   store.IntentStore
	executors *Registry

	recorder    audit.Recorder
	keyring     *audit.Keyring
	clock       func() time.Time
	execTimeout time.Duration
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock overrides the time source for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithRecorder sends every lifecycle transition to the given audit recorder.
func WithRecorder(r audit.Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithKeyring makes the controller seal a receipt for every terminal
// outcome it produces.
func WithKeyring(k *audit.Keyring) Option {
	return func(c *Controller) { c.keyring = k }
}

// WithExecutionTimeout bounds each executor call. Zero disables the bound.
func WithExecutionTimeout(d time.Duration) Option {
	return func(c *Controller) { c.execTimeout = d }
}

// New wires a controller. All five collaborators are required.
func New(cat *catalog.Catalog, contracts *validate.ContractValidator, contexts *validate.ContextValidator, intents store.IntentStore, executors *Registry, opts ...Option) *Controller {
	c := &Controller{
		catalog:     cat,
		contracts:   contracts,
		contexts:    contexts,
		intents:     intents,
		executors:   executors,
		recorder:    audit.NopRecorder{},
		clock:       time.Now,
		execTimeout: DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Propose runs a parsed action request through both validators and then
// either executes it (non-sensitive), parks it pending confirmation
// (sensitive), or rejects it. Rejections happen before any write: a
// proposal that fails validation leaves no trace in the store.
func (c *Controller) Propose(ctx context.Context, sessionID, actionName string, args map[string]any) (*ProposeResult, error) {
	if args == nil {
		args = map[string]any{}
	}

	def, ok := c.catalog.Lookup(actionName)
	if !ok {
		return &ProposeResult{
			Outcome: OutcomeRejected,
			Failure: &validate.Failure{Kind: validate.FailureContract, Reason: fmt.Sprintf("unknown action %q", actionName)},
		}, nil
	}

	if f := c.contracts.Validate(actionName, args); f != nil {
		return &ProposeResult{Outcome: OutcomeRejected, Failure: f}, nil
	}
	f, err := c.contexts.Validate(ctx, actionName, args, sessionID)
	if err != nil {
		return nil, fmt.Errorf("gate: context validation: %w", err)
	}
	if f != nil {
		return &ProposeResult{Outcome: OutcomeRejected, Failure: f}, nil
	}

	if !def.Sensitive {
		return c.executeImmediate(ctx, sessionID, actionName, args)
	}

	intent := &store.Intent{
		IntentID:   uuid.New().String(),
		SessionID:  sessionID,
		ActionName: actionName,
		Arguments:  args,
		Status:     store.StatusProposed,
		CreatedAt:  c.clock().UTC(),
	}
	if err := c.intents.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("gate: persist proposal: %w", err)
	}
	if err := c.intents.MarkPending(ctx, intent.IntentID); err != nil {
		return nil, fmt.Errorf("gate: advance proposal to pending: %w", err)
	}

	c.record(ctx, audit.Transition{
		IntentID:        intent.IntentID,
		SessionID:       sessionID,
		Action:          actionName,
		From:            string(store.StatusProposed),
		To:              string(store.StatusPending),
		Actor:           audit.ActorUser,
		ArgsFingerprint: c.fingerprint(args),
	})

	return &ProposeResult{
		Outcome:  OutcomeAwaiting,
		IntentID: intent.IntentID,
		Preview:  renderPreview(def, args),
	}, nil
}

// executeImmediate is the non-sensitive path: run now, persist nothing.
func (c *Controller) executeImmediate(ctx context.Context, sessionID, actionName string, args map[string]any) (*ProposeResult, error) {
	note, err := c.execute(ctx, actionName, args)
	res := &ProposeResult{Outcome: OutcomeExecuted, Succeeded: err == nil, Note: note}
	to := string(store.StatusCompleted)
	if err != nil {
		slog.Warn("gate: immediate execution failed", "action", actionName, "error", err)
		res.Note = "execution failed: " + err.Error()
		to = string(store.StatusFailed)
	}
	c.record(ctx, audit.Transition{
		SessionID:       sessionID,
		Action:          actionName,
		To:              to,
		Actor:           audit.ActorGate,
		Note:            res.Note,
		ArgsFingerprint: c.fingerprint(args),
	})
	return res, nil
}

// Confirm executes a pending intent. The MarkExecuting transition is the
// single winner-picker: of any number of concurrent confirmations, exactly
// one proceeds to run the executor and the rest get a conflict explanation.
func (c *Controller) Confirm(ctx context.Context, sessionID, intentID string) (*ConfirmResult, error) {
	it, err := c.intents.Get(ctx, intentID)
	if errors.Is(err, store.ErrNotFound) {
		return &ConfirmResult{ConflictReason: "nothing pending to confirm"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gate: load intent: %w", err)
	}
	// A foreign session's intent is indistinguishable from a missing one.
	if it.SessionID != sessionID {
		return &ConfirmResult{ConflictReason: "nothing pending to confirm"}, nil
	}

	startedAt := c.clock().UTC()
	if err := c.intents.MarkExecuting(ctx, intentID, startedAt); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			cur, gerr := c.intents.Get(ctx, intentID)
			if gerr != nil {
				return nil, fmt.Errorf("gate: load intent after conflict: %w", gerr)
			}
			return &ConfirmResult{
				Status:         cur.Status,
				Note:           cur.ResultNote,
				ConflictReason: conflictReason(cur.Status),
			}, nil
		case errors.Is(err, store.ErrNotFound):
			return &ConfirmResult{ConflictReason: "nothing pending to confirm"}, nil
		default:
			return nil, fmt.Errorf("gate: claim intent: %w", err)
		}
	}

	fp := c.fingerprint(it.Arguments)
	c.record(ctx, audit.Transition{
		IntentID:        intentID,
		SessionID:       sessionID,
		Action:          it.ActionName,
		From:            string(store.StatusPending),
		To:              string(store.StatusExecuting),
		Actor:           audit.ActorUser,
		ArgsFingerprint: fp,
	})

	note, execErr := c.execute(ctx, it.ActionName, it.Arguments)
	finishedAt := c.clock().UTC()

	finalStatus := store.StatusCompleted
	finalNote := note
	var markErr error
	if execErr != nil {
		finalStatus = store.StatusFailed
		finalNote = "execution failed: " + execErr.Error()
		markErr = c.intents.MarkFailed(ctx, intentID, finishedAt, finalNote)
	} else {
		markErr = c.intents.MarkCompleted(ctx, intentID, finishedAt, finalNote)
	}

	if markErr != nil {
		if errors.Is(markErr, store.ErrConflict) {
			// The sweeper expired the intent while the executor ran. The
			// work is done; the record stays expired.
			cur, gerr := c.intents.Get(ctx, intentID)
			if gerr != nil {
				return nil, fmt.Errorf("gate: load intent after expiry race: %w", gerr)
			}
			slog.Warn("gate: execution finished after expiry",
				"intent_id", intentID, "action", it.ActionName, "status", cur.Status)
			return &ConfirmResult{
				Confirmed:      true,
				Status:         cur.Status,
				Note:           cur.ResultNote,
				ConflictReason: conflictReason(cur.Status),
			}, nil
		}
		return nil, fmt.Errorf("gate: record outcome: %w", markErr)
	}

	c.record(ctx, audit.Transition{
		IntentID:        intentID,
		SessionID:       sessionID,
		Action:          it.ActionName,
		From:            string(store.StatusExecuting),
		To:              string(finalStatus),
		Actor:           audit.ActorGate,
		Note:            finalNote,
		ArgsFingerprint: fp,
	})

	res := &ConfirmResult{Confirmed: true, Status: finalStatus, Note: finalNote}
	if c.keyring != nil {
		sealed, serr := c.keyring.Seal(audit.Receipt{
			IntentID:        intentID,
			Action:          it.ActionName,
			Status:          string(finalStatus),
			Note:            finalNote,
			ArgsFingerprint: fp,
			IssuedAt:        finishedAt,
		})
		if serr != nil {
			slog.Error("gate: receipt seal failed", "intent_id", intentID, "error", serr)
		} else {
			res.Receipt = &sealed
		}
	}
	return res, nil
}

// Decline cancels a pending intent. The guarded transition means a decline
// racing a confirmation resolves cleanly: one of them wins, the other is
// told what the intent became.
func (c *Controller) Decline(ctx context.Context, sessionID, intentID string) (*DeclineResult, error) {
	it, err := c.intents.Get(ctx, intentID)
	if errors.Is(err, store.ErrNotFound) {
		return &DeclineResult{ConflictReason: "nothing pending to decline"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gate: load intent: %w", err)
	}
	if it.SessionID != sessionID {
		return &DeclineResult{ConflictReason: "nothing pending to decline"}, nil
	}

	if err := c.intents.MarkDeclined(ctx, intentID, declinedNote); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			cur, gerr := c.intents.Get(ctx, intentID)
			if gerr != nil {
				return nil, fmt.Errorf("gate: load intent after conflict: %w", gerr)
			}
			return &DeclineResult{ConflictReason: conflictReason(cur.Status)}, nil
		case errors.Is(err, store.ErrNotFound):
			return &DeclineResult{ConflictReason: "nothing pending to decline"}, nil
		default:
			return nil, fmt.Errorf("gate: decline intent: %w", err)
		}
	}

	c.record(ctx, audit.Transition{
		IntentID:  intentID,
		SessionID: sessionID,
		Action:    it.ActionName,
		From:      string(store.StatusPending),
		To:        string(store.StatusExpired),
		Actor:     audit.ActorUser,
		Note:      declinedNote,
	})
	return &DeclineResult{Acknowledged: true}, nil
}

// execute resolves and runs the executor under the configured timeout.
func (c *Controller) execute(ctx context.Context, action string, args map[string]any) (string, error) {
	exec, ok := c.executors.Executor(action)
	if !ok {
		return "", fmt.Errorf("no executor registered for action %q", action)
	}
	if c.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.execTimeout)
		defer cancel()
	}
	return exec.Execute(ctx, action, args)
}

// record forwards a transition to the audit recorder. Audit failures are
// logged, never propagated: the lifecycle outcome already happened.
func (c *Controller) record(ctx context.Context, t audit.Transition) {
	if t.At.IsZero() {
		t.At = c.clock().UTC()
	}
	if err := c.recorder.Record(ctx, t); err != nil {
		slog.Error("gate: audit record failed", "intent_id", t.IntentID, "error", err)
	}
}

func (c *Controller) fingerprint(args map[string]any) string {
	fp, err := audit.FingerprintArguments(args)
	if err != nil {
		slog.Error("gate: argument fingerprint failed", "error", err)
		return ""
	}
	return fp
}

// conflictReason explains to a losing caller what the intent became.
func conflictReason(s store.Status) string {
	switch s {
	case store.StatusExecuting:
		return "already being executed"
	case store.StatusCompleted:
		return "already completed"
	case store.StatusFailed:
		return "already failed"
	case store.StatusExpired:
		return "no longer pending; it expired or was declined"
	case store.StatusProposed:
		return "not yet awaiting confirmation"
	default:
		return "nothing pending to confirm"
	}
}
