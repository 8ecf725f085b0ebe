package validate

import (
	"strings"
	"testing"

	"github.com/airlock-labs/airlock/pkg/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		catalog.ActionDefinition{
			Name:      "send_email",
			Summary:   "Send an email to a customer",
			Sensitive: true,
			Args: []catalog.ArgumentSpec{
				{Name: "recipient", Kind: catalog.KindString, Required: true},
				{Name: "subject", Kind: catalog.KindString, Required: true},
				{Name: "body", Kind: catalog.KindString},
				{Name: "urgency", Kind: catalog.KindString, Enum: []string{"low", "normal", "high"}},
			},
			Context: catalog.ContextSpec{
				RequiredFacts: []string{"active_reference"},
			},
		},
		catalog.ActionDefinition{
			Name:    "issue_refund",
			Summary: "Issue a refund",
			Args: []catalog.ArgumentSpec{
				{Name: "amount", Kind: catalog.KindNumber, Required: true},
				{Name: "installments", Kind: catalog.KindInteger},
			},
			Context: catalog.ContextSpec{
				Rule:              `facts.region == "EU"`,
				ClarificationHint: "refunds need a region on file; ask where the customer is based",
			},
		},
		catalog.ActionDefinition{
			Name:    "lookup_tariff",
			Summary: "Look up a tariff code",
			Args: []catalog.ArgumentSpec{
				{Name: "code", Kind: catalog.KindString, Required: true},
			},
		},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func TestContractValidator(t *testing.T) {
	v, err := NewContractValidator(testCatalog(t))
	if err != nil {
		t.Fatalf("NewContractValidator: %v", err)
	}

	tests := []struct {
		name       string
		action     string
		args       map[string]any
		wantReason string // empty = valid
	}{
		{
			name:   "valid",
			action: "send_email",
			args: map[string]any{
				"recipient": "ops@example.com",
				"subject":   "customs declaration ready",
				"urgency":   "high",
			},
		},
		{
			name:       "missing required argument",
			action:     "send_email",
			args:       map[string]any{"subject": "hello"},
			wantReason: `missing required argument "recipient"`,
		},
		{
			name:   "first missing required reported first",
			action: "send_email",
			args:   map[string]any{},
			// recipient is declared before subject.
			wantReason: `missing required argument "recipient"`,
		},
		{
			name:   "wrong value kind",
			action: "send_email",
			args: map[string]any{
				"recipient": 42,
				"subject":   "hello",
			},
			wantReason: "recipient",
		},
		{
			name:   "enum violation",
			action: "send_email",
			args: map[string]any{
				"recipient": "ops@example.com",
				"subject":   "hello",
				"urgency":   "extreme",
			},
			wantReason: "urgency",
		},
		{
			name:   "unexpected argument rejected",
			action: "send_email",
			args: map[string]any{
				"recipient": "ops@example.com",
				"subject":   "hello",
				"cc_all":    true,
			},
			wantReason: "cc_all",
		},
		{
			name:       "unknown action",
			action:     "delete_everything",
			args:       map[string]any{},
			wantReason: "unknown action",
		},
		{
			name:   "number and integer kinds",
			action: "issue_refund",
			args: map[string]any{
				"amount":       19.99,
				"installments": 3,
			},
		},
		{
			name:   "integer kind rejects fraction",
			action: "issue_refund",
			args: map[string]any{
				"amount":       19.99,
				"installments": 2.5,
			},
			wantReason: "installments",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := v.Validate(tc.action, tc.args)
			if tc.wantReason == "" {
				if f != nil {
					t.Fatalf("want valid, got failure: %s", f.Reason)
				}
				return
			}
			if f == nil {
				t.Fatalf("want failure containing %q, got valid", tc.wantReason)
			}
			if f.Kind != FailureContract {
				t.Errorf("Kind = %q, want %q", f.Kind, FailureContract)
			}
			if !strings.Contains(f.Reason, tc.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", f.Reason, tc.wantReason)
			}
		})
	}
}

func TestContractValidatorNilArgs(t *testing.T) {
	cat, err := catalog.New(catalog.ActionDefinition{Name: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewContractValidator(cat)
	if err != nil {
		t.Fatal(err)
	}
	if f := v.Validate("ping", nil); f != nil {
		t.Fatalf("nil args on argless action should be valid, got %s", f.Reason)
	}
}
