package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMigratePendingPayloadUpgradesV1(t *testing.T) {
	raw := []byte(`{
		"customer_name": "Budi",
		"customer_phone": "0812",
		"paid": "150",
		"items": [
			{"color_id": "color-1", "quantity": 2, "price": "100"},
			{"color_id": "color-2", "quantity": 1, "price": "50"}
		]
	}`)

	payload, err := MigratePendingPayload(raw)
	if err != nil {
		t.Fatalf("migrate v1 payload: %v", err)
	}
	if payload.SchemaVersion != PendingSalePayloadVersion {
		t.Fatalf("expected schema version %d, got %d", PendingSalePayloadVersion, payload.SchemaVersion)
	}
	if payload.Sale.CustomerName != "Budi" {
		t.Fatalf("customer name lost in migration: %q", payload.Sale.CustomerName)
	}
	if !payload.Sale.TotalAmount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected recomputed total 250, got %s", payload.Sale.TotalAmount)
	}
	if len(payload.Items) != 2 || !payload.Items[0].Rate.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("items not carried over: %+v", payload.Items)
	}
}

func TestMigratePendingPayloadCurrentVersionRoundTrip(t *testing.T) {
	original := PendingSalePayload{
		Sale: SaleDraft{
			CustomerName: "Sari",
			AmountPaid:   decimal.NewFromInt(75),
			TotalAmount:  decimal.NewFromInt(75),
		},
		Items: []SaleItemDraft{{ColorID: "color-1", Quantity: 3, Rate: decimal.NewFromInt(25)}},
	}

	raw, err := EncodePendingPayload(original)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	decoded, err := MigratePendingPayload(raw)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Sale.CustomerName != "Sari" || len(decoded.Items) != 1 {
		t.Fatalf("round trip lost data: %+v", decoded)
	}
	if !decoded.Sale.TotalAmount.Equal(original.Sale.TotalAmount) {
		t.Fatalf("total changed in round trip: %s", decoded.Sale.TotalAmount)
	}
}

func TestMigratePendingPayloadRejectsUnknownVersion(t *testing.T) {
	raw := []byte(`{"schema_version": 99}`)
	if _, err := MigratePendingPayload(raw); err == nil {
		t.Fatalf("expected error for unknown schema version")
	}
}
