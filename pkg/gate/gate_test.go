package gate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airlock-labs/airlock/pkg/audit"
	"github.com/airlock-labs/airlock/pkg/catalog"
	"github.com/airlock-labs/airlock/pkg/session"
	"github.com/airlock-labs/airlock/pkg/store"
	"github.com/airlock-labs/airlock/pkg/validate"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		catalog.ActionDefinition{
			Name:      "send_email",
			Summary:   "Send an email on the user's behalf.",
			Sensitive: true,
			Args: []catalog.ArgumentSpec{
				{Name: "recipient", Required: true, Kind: catalog.KindString},
				{Name: "subject", Required: true, Kind: catalog.KindString},
				{Name: "urgency", Kind: catalog.KindString, Enum: []string{"low", "high"}},
			},
		},
		catalog.ActionDefinition{
			Name:      "issue_refund",
			Summary:   "Issue a refund for an order.",
			Sensitive: true,
			Args: []catalog.ArgumentSpec{
				{Name: "order_id", Required: true, Kind: catalog.KindString},
			},
			Context: catalog.ContextSpec{
				RequiredFacts:     []string{"active_order"},
				ClarificationHint: "Which order should be refunded?",
			},
		},
		catalog.ActionDefinition{
			Name:    "lookup_tariff",
			Summary: "Look up a shipping tariff.",
			Args: []catalog.ArgumentSpec{
				{Name: "zone", Required: true, Kind: catalog.KindString},
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

// countingExecutor records how many times each action ran.
type countingExecutor struct {
	mu    sync.Mutex
	calls map[string]int
	note  string
	err   error
}

func (e *countingExecutor) Execute(_ context.Context, action string, _ map[string]any) (string, error) {
	e.mu.Lock()
	e.calls[action]++
	e.mu.Unlock()
	return e.note, e.err
}

func (e *countingExecutor) count(action string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[action]
}

type harness struct {
	ctrl     *Controller
	intents  *store.MemoryIntentStore
	sessions *session.MemoryStore
	exec     *countingExecutor
	log      *audit.Log
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	cat := testCatalog(t)
	contracts, err := validate.NewContractValidator(cat)
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.NewMemoryStore(time.Hour)
	contexts, err := validate.NewContextValidator(cat, sessions)
	if err != nil {
		t.Fatal(err)
	}

	intents := store.NewMemoryIntentStore()
	exec := &countingExecutor{calls: map[string]int{}, note: "done"}
	reg := NewRegistry()
	for _, name := range []string{"send_email", "issue_refund", "lookup_tariff"} {
		if err := reg.Register(name, exec); err != nil {
			t.Fatal(err)
		}
	}

	log := audit.NewLog()
	opts = append([]Option{WithRecorder(log)}, opts...)
	return &harness{
		ctrl:     New(cat, contracts, contexts, intents, reg, opts...),
		intents:  intents,
		sessions: sessions,
		exec:     exec,
		log:      log,
	}
}

func validEmailArgs() map[string]any {
	return map[string]any{"recipient": "kim@example.com", "subject": "Quarterly numbers"}
}

func TestProposeSensitiveAwaitsConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Fatalf("outcome = %s, want awaiting_confirmation", res.Outcome)
	}
	if res.IntentID == "" {
		t.Fatal("no intent id returned")
	}
	if h.exec.count("send_email") != 0 {
		t.Fatal("proposal executed a sensitive action without confirmation")
	}

	it, err := h.intents.Get(ctx, res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if it.Status != store.StatusPending {
		t.Fatalf("stored status = %s, want pending_confirmation", it.Status)
	}
	if it.ExecutingAt != nil {
		t.Fatal("executing_at set before any confirmation")
	}

	for _, want := range []string{"send_email", "recipient: kim@example.com", "subject: Quarterly numbers", `"confirm"`} {
		if !strings.Contains(res.Preview, want) {
			t.Fatalf("preview missing %q:\n%s", want, res.Preview)
		}
	}
}

func TestConfirmExecutesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, _ := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())

	first, err := h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Confirmed {
		t.Fatalf("first confirm lost: %+v", first)
	}
	if first.Status != store.StatusCompleted || first.Note != "done" {
		t.Fatalf("first confirm: status=%s note=%q", first.Status, first.Note)
	}

	second, err := h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Confirmed {
		t.Fatal("second confirm also executed")
	}
	if second.ConflictReason != "already completed" {
		t.Fatalf("conflict reason = %q", second.ConflictReason)
	}
	if h.exec.count("send_email") != 1 {
		t.Fatalf("executor ran %d times, want 1", h.exec.count("send_email"))
	}
}

func TestContractFailurePersistsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.ctrl.Propose(ctx, "s-1", "send_email", map[string]any{"recipient": "kim@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", res.Outcome)
	}
	if res.Failure == nil || res.Failure.Kind != validate.FailureContract {
		t.Fatalf("failure = %+v, want contract kind", res.Failure)
	}
	if !strings.Contains(res.Failure.Reason, "subject") {
		t.Fatalf("reason does not name the missing argument: %q", res.Failure.Reason)
	}

	all, _ := h.intents.List(ctx, store.Filter{})
	if len(all) != 0 {
		t.Fatalf("rejected proposal persisted %d intents", len(all))
	}
	if h.exec.count("send_email") != 0 {
		t.Fatal("rejected proposal executed")
	}
}

func TestContextFailureAsksForClarification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.ctrl.Propose(ctx, "s-1", "issue_refund", map[string]any{"order_id": "ord-7"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeRejected || res.Failure.Kind != validate.FailureContext {
		t.Fatalf("res = %+v, want context rejection", res)
	}
	if res.Failure.Reason != "Which order should be refunded?" {
		t.Fatalf("reason = %q, want the clarification hint", res.Failure.Reason)
	}

	all, _ := h.intents.List(ctx, store.Filter{})
	if len(all) != 0 {
		t.Fatal("context rejection persisted an intent")
	}

	// With the fact established the same proposal goes through.
	_ = h.sessions.SetFact(ctx, "s-1", "active_order", "ord-7")
	res, err = h.ctrl.Propose(ctx, "s-1", "issue_refund", map[string]any{"order_id": "ord-7"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Fatalf("outcome = %s after establishing fact", res.Outcome)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	h := newHarness(t)

	res, err := h.ctrl.Propose(context.Background(), "s-1", "launch_rocket", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeRejected || res.Failure.Kind != validate.FailureContract {
		t.Fatalf("res = %+v, want contract rejection", res)
	}
}

func TestNonSensitiveExecutesImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.ctrl.Propose(ctx, "s-1", "lookup_tariff", map[string]any{"zone": "EU-2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeExecuted || !res.Succeeded || res.Note != "done" {
		t.Fatalf("res = %+v, want immediate success", res)
	}
	if h.exec.count("lookup_tariff") != 1 {
		t.Fatalf("executor ran %d times", h.exec.count("lookup_tariff"))
	}

	all, _ := h.intents.List(ctx, store.Filter{})
	if len(all) != 0 {
		t.Fatalf("non-sensitive action persisted %d intents", len(all))
	}
}

func TestDeclineExpiresIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, _ := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())

	dec, err := h.ctrl.Decline(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Acknowledged {
		t.Fatalf("decline not acknowledged: %+v", dec)
	}

	it, _ := h.intents.Get(ctx, res.IntentID)
	if it.Status != store.StatusExpired || it.ResultNote != "declined by user" {
		t.Fatalf("declined intent: status=%s note=%q", it.Status, it.ResultNote)
	}

	conf, err := h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Confirmed {
		t.Fatal("declined intent executed")
	}
	if h.exec.count("send_email") != 0 {
		t.Fatal("declined intent reached the executor")
	}
}

func TestConfirmForeignSessionConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, _ := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())

	conf, err := h.ctrl.Confirm(ctx, "s-2", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Confirmed || conf.ConflictReason != "nothing pending to confirm" {
		t.Fatalf("foreign confirm: %+v", conf)
	}

	dec, err := h.ctrl.Decline(ctx, "s-2", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Acknowledged {
		t.Fatal("foreign session declined another session's intent")
	}

	// The rightful owner can still confirm.
	conf, err = h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if !conf.Confirmed {
		t.Fatalf("owner confirm lost: %+v", conf)
	}
}

func TestConfirmUnknownIntentConflicts(t *testing.T) {
	h := newHarness(t)

	conf, err := h.ctrl.Confirm(context.Background(), "s-1", "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if conf.Confirmed || conf.ConflictReason != "nothing pending to confirm" {
		t.Fatalf("unknown confirm: %+v", conf)
	}
}

func TestExecutionFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.exec.err = errors.New("smtp: connection refused")
	ctx := context.Background()

	res, _ := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())
	conf, err := h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if !conf.Confirmed {
		t.Fatalf("confirm lost: %+v", conf)
	}
	if conf.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", conf.Status)
	}
	if !strings.Contains(conf.Note, "execution failed") || !strings.Contains(conf.Note, "connection refused") {
		t.Fatalf("note = %q", conf.Note)
	}

	it, _ := h.intents.Get(ctx, res.IntentID)
	if it.Status != store.StatusFailed {
		t.Fatalf("stored status = %s", it.Status)
	}
	if it.CompletedAt == nil {
		t.Fatal("failed intent has no completed_at")
	}

	// Failed is terminal; a retry needs a fresh proposal.
	conf, _ = h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if conf.Confirmed || conf.ConflictReason != "already failed" {
		t.Fatalf("re-confirm after failure: %+v", conf)
	}
}

func TestImmediateExecutionFailureReported(t *testing.T) {
	h := newHarness(t)
	h.exec.err = errors.New("tariff service unavailable")

	res, err := h.ctrl.Propose(context.Background(), "s-1", "lookup_tariff", map[string]any{"zone": "EU-2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeExecuted || res.Succeeded {
		t.Fatalf("res = %+v, want unsuccessful execution", res)
	}
	if !strings.Contains(res.Note, "execution failed") {
		t.Fatalf("note = %q", res.Note)
	}
}

func TestConfirmSurvivesExpiryRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, _ := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())

	// The executor simulates the sweeper expiring the intent while the
	// side effect is still in flight.
	reg := NewRegistry()
	_ = reg.Register("send_email", ExecutorFunc(func(ctx context.Context, action string, args map[string]any) (string, error) {
		if err := h.intents.MarkExpired(ctx, res.IntentID, "execution did not finish within 10m0s"); err != nil {
			t.Errorf("expire mid-flight: %v", err)
		}
		return "sent", nil
	}))
	h.ctrl.executors = reg

	conf, err := h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if !conf.Confirmed {
		t.Fatalf("confirm lost its own execution: %+v", conf)
	}
	if conf.Status != store.StatusExpired {
		t.Fatalf("status = %s, want expired (terminal states never transition)", conf.Status)
	}

	it, _ := h.intents.Get(ctx, res.IntentID)
	if it.Status != store.StatusExpired {
		t.Fatalf("stored status = %s, want expired", it.Status)
	}
}

func TestMissingExecutorFailsIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, _ := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())
	h.ctrl.executors = NewRegistry()

	conf, err := h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", conf.Status)
	}
	if !strings.Contains(conf.Note, "no executor registered") {
		t.Fatalf("note = %q", conf.Note)
	}
}

func TestReceiptSealedOnCompletion(t *testing.T) {
	keyring, err := audit.NewKeyring([]byte("gate-test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, WithKeyring(keyring))
	ctx := context.Background()

	res, _ := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())
	conf, err := h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Receipt == nil {
		t.Fatal("no receipt on completion")
	}
	if conf.Receipt.IntentID != res.IntentID || conf.Receipt.Status != string(store.StatusCompleted) {
		t.Fatalf("receipt = %+v", conf.Receipt)
	}
	if err := keyring.Verify(*conf.Receipt); err != nil {
		t.Fatalf("receipt does not verify: %v", err)
	}
}

func TestAuditTrailCoversLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, _ := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())
	_, _ = h.ctrl.Confirm(ctx, "s-1", res.IntentID)

	entries := h.log.Query(audit.Filter{IntentID: res.IntentID})
	if len(entries) != 3 {
		t.Fatalf("audit trail has %d entries, want 3 (pending, executing, completed)", len(entries))
	}
	wantTo := []string{"pending_confirmation", "executing", "completed"}
	for i, e := range entries {
		if e.Transition.To != wantTo[i] {
			t.Fatalf("entry %d: to = %s, want %s", i, e.Transition.To, wantTo[i])
		}
	}
	if err := h.log.VerifyChain(); err != nil {
		t.Fatal(err)
	}
}
