package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// PendingSalePayloadVersion is the schema version written by current
// terminals. Older queued entries are upgraded by MigratePendingPayload
// before replay, so a schema change never strands an offline queue.
const PendingSalePayloadVersion = 2

// PendingSalePayload is the serialized body of a PendingSale.
type PendingSalePayload struct {
	SchemaVersion int             `json:"schema_version"`
	Sale          SaleDraft       `json:"sale"`
	Items         []SaleItemDraft `json:"items,omitempty"`
}

// SaleDraft mirrors SaleCreateRequest minus the offline id, which lives on
// the queue entry itself.
type SaleDraft struct {
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	IsManualBalance bool            `json:"is_manual_balance,omitempty"`
	SaleDate        string          `json:"sale_date,omitempty"`
	DueDate         *string         `json:"due_date,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

type SaleItemDraft struct {
	ColorID  string          `json:"color_id"`
	Quantity int             `json:"quantity"`
	Rate     decimal.Decimal `json:"rate"`
}

// payloadV1 is the original queue shape: no schema_version field, item
// price under "price", paid amount under "paid".
type payloadV1 struct {
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Paid          decimal.Decimal `json:"paid"`
	Notes         string          `json:"notes"`
	Items         []struct {
		ColorID  string          `json:"color_id"`
		Quantity int             `json:"quantity"`
		Price    decimal.Decimal `json:"price"`
	} `json:"items"`
}

// MigratePendingPayload decodes a queued payload of any known schema version
// into the current shape. Entries without a schema_version tag are treated
// as version 1.
func MigratePendingPayload(raw []byte) (PendingSalePayload, error) {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return PendingSalePayload{}, fmt.Errorf("decode pending payload: %w", err)
	}

	switch probe.SchemaVersion {
	case 0: // pre-versioning queue entries
		var v1 payloadV1
		if err := json.Unmarshal(raw, &v1); err != nil {
			return PendingSalePayload{}, fmt.Errorf("decode v1 pending payload: %w", err)
		}
		out := PendingSalePayload{
			SchemaVersion: PendingSalePayloadVersion,
			Sale: SaleDraft{
				CustomerName:  v1.CustomerName,
				CustomerPhone: v1.CustomerPhone,
				AmountPaid:    v1.Paid,
				Notes:         v1.Notes,
			},
		}
		total := decimal.Zero
		for _, item := range v1.Items {
			out.Items = append(out.Items, SaleItemDraft{
				ColorID:  item.ColorID,
				Quantity: item.Quantity,
				Rate:     item.Price,
			})
			total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		out.Sale.TotalAmount = total
		return out, nil
	case PendingSalePayloadVersion:
		var out PendingSalePayload
		if err := json.Unmarshal(raw, &out); err != nil {
			return PendingSalePayload{}, fmt.Errorf("decode pending payload: %w", err)
		}
		return out, nil
	default:
		return PendingSalePayload{}, fmt.Errorf("unsupported pending payload schema version %d", probe.SchemaVersion)
	}
}

// EncodePendingPayload serializes a payload at the current schema version.
func EncodePendingPayload(p PendingSalePayload) ([]byte, error) {
	p.SchemaVersion = PendingSalePayloadVersion
	return json.Marshal(p)
}
