package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDerivePaymentStatus(t *testing.T) {
	total := decimal.NewFromInt(1000)

	if got := DerivePaymentStatus(total, decimal.Zero); got != PaymentStatusUnpaid {
		t.Fatalf("expected unpaid for zero payment, got %s", got)
	}
	if got := DerivePaymentStatus(total, decimal.NewFromInt(400)); got != PaymentStatusPartial {
		t.Fatalf("expected partial for 400/1000, got %s", got)
	}
	if got := DerivePaymentStatus(total, decimal.NewFromInt(1000)); got != PaymentStatusPaid {
		t.Fatalf("expected paid for exact payment, got %s", got)
	}
	if got := DerivePaymentStatus(total, decimal.NewFromInt(1200)); got != PaymentStatusPaid {
		t.Fatalf("expected paid when amount exceeds total, got %s", got)
	}
	if got := DerivePaymentStatus(decimal.Zero, decimal.Zero); got != PaymentStatusPaid {
		t.Fatalf("expected paid for zero-total sale, got %s", got)
	}
}

func TestOutstandingNeverNegative(t *testing.T) {
	out := Outstanding(decimal.NewFromInt(500), decimal.NewFromInt(700))
	if !out.IsZero() {
		t.Fatalf("expected zero outstanding on overpayment, got %s", out)
	}
	out = Outstanding(decimal.NewFromInt(500), decimal.NewFromInt(200))
	if !out.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected 300 outstanding, got %s", out)
	}
}

func TestValidLedgerDate(t *testing.T) {
	valid := []string{"01-01-2026", "29-02-2024", "31-12-1999"}
	for _, d := range valid {
		if !ValidLedgerDate(d) {
			t.Fatalf("expected %q to be valid", d)
		}
	}

	invalid := []string{"2026-01-01", "32-01-2026", "29-02-2023", "1-1-2026", "", "aa-bb-cccc"}
	for _, d := range invalid {
		if ValidLedgerDate(d) {
			t.Fatalf("expected %q to be invalid", d)
		}
	}
}
