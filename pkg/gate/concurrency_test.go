package gate

import (
	"context"
	"sync"
	"testing"

	"github.com/airlock-labs/airlock/pkg/store"
)

// TestConcurrentConfirmsExecuteOnce races many confirmations of one intent
// and checks that the guarded transition picks exactly one winner.
func TestConcurrentConfirmsExecuteOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())
	if err != nil {
		t.Fatal(err)
	}

	const workers = 16
	results := make([]*ConfirmResult, workers)
	errs := make([]error, workers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			results[i], errs[i] = h.ctrl.Confirm(ctx, "s-1", res.IntentID)
		}(i)
	}
	start.Done()
	done.Wait()

	confirmed := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].Confirmed {
			confirmed++
		} else if results[i].ConflictReason == "" {
			t.Fatalf("worker %d lost without a conflict explanation: %+v", i, results[i])
		}
	}
	if confirmed != 1 {
		t.Fatalf("%d workers confirmed, want exactly 1", confirmed)
	}
	if got := h.exec.count("send_email"); got != 1 {
		t.Fatalf("executor ran %d times, want exactly 1", got)
	}

	it, err := h.intents.Get(ctx, res.IntentID)
	if err != nil {
		t.Fatal(err)
	}
	if it.Status != store.StatusCompleted {
		t.Fatalf("final status = %s, want completed", it.Status)
	}
}

// TestConcurrentConfirmAndDecline races a confirmation against a decline;
// whichever transition loses must observe the winner's terminal state.
func TestConcurrentConfirmAndDecline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.ctrl.Propose(ctx, "s-1", "send_email", validEmailArgs())
	if err != nil {
		t.Fatal(err)
	}

	var (
		start sync.WaitGroup
		done  sync.WaitGroup
		conf  *ConfirmResult
		dec   *DeclineResult
	)
	start.Add(1)
	done.Add(2)
	go func() {
		defer done.Done()
		start.Wait()
		conf, _ = h.ctrl.Confirm(ctx, "s-1", res.IntentID)
	}()
	go func() {
		defer done.Done()
		start.Wait()
		dec, _ = h.ctrl.Decline(ctx, "s-1", res.IntentID)
	}()
	start.Done()
	done.Wait()

	if conf.Confirmed && dec.Acknowledged {
		t.Fatal("both the confirm and the decline won")
	}
	if !conf.Confirmed && !dec.Acknowledged {
		t.Fatalf("neither won: confirm=%+v decline=%+v", conf, dec)
	}

	it, _ := h.intents.Get(ctx, res.IntentID)
	if dec.Acknowledged {
		if it.Status != store.StatusExpired || h.exec.count("send_email") != 0 {
			t.Fatalf("decline won but status=%s, executions=%d", it.Status, h.exec.count("send_email"))
		}
	} else {
		if it.Status != store.StatusCompleted || h.exec.count("send_email") != 1 {
			t.Fatalf("confirm won but status=%s, executions=%d", it.Status, h.exec.count("send_email"))
		}
	}
}
