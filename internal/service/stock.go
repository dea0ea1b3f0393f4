package service

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func (s *Service) CreateColor(ctx context.Context, name string, rateOverride *decimal.Decimal) (*domain.Color, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	if rateOverride != nil && rateOverride.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	created, err := s.repo.CreateColor(ctx, domain.Color{Name: name, RateOverride: rateOverride})
	if err != nil {
		return nil, err
	}
	s.changed()
	return created, nil
}

func (s *Service) GetColor(ctx context.Context, id string) (*domain.Color, error) {
	return s.repo.GetColor(ctx, id)
}

func (s *Service) ListColors(ctx context.Context) ([]domain.Color, error) {
	return s.repo.ListColors(ctx)
}

// StockIn records a received delivery. The quantity update is authoritative;
// when the store reports a lost history row the increase still stands and the
// failure is logged.
func (s *Service) StockIn(ctx context.Context, req domain.StockInRequest) (*domain.Color, *domain.StockInHistory, error) {
	if req.ColorID == "" || req.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}
	if req.Date != "" && !domain.ValidLedgerDate(req.Date) {
		return nil, nil, store.ErrInvalidInput
	}

	color, entry, err := s.repo.StockIn(ctx, domain.StockInHistory{
		ColorID:     req.ColorID,
		Quantity:    req.Quantity,
		StockInDate: req.Date,
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		s.log.WithFields(logrus.Fields{
			"color_id": req.ColorID,
			"quantity": req.Quantity,
		}).Warn("stock-in applied without history entry")
	}

	s.changed()
	return color, entry, nil
}

// RecordStockOut covers manual outward movements: adjustments and damage.
// Sale decrements never come through here; CreateSale records its own rows.
func (s *Service) RecordStockOut(ctx context.Context, colorID string, quantity int, movementType string, notes string, date string) (*domain.Color, *domain.StockOutHistory, error) {
	if colorID == "" || quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}
	switch movementType {
	case domain.MovementTypeAdjustment, domain.MovementTypeDamage:
	default:
		return nil, nil, store.ErrInvalidInput
	}
	if date != "" && !domain.ValidLedgerDate(date) {
		return nil, nil, store.ErrInvalidInput
	}

	color, entry, err := s.repo.RecordStockOut(ctx, domain.StockOutHistory{
		ColorID:      colorID,
		Quantity:     quantity,
		MovementType: movementType,
		StockOutDate: date,
		Notes:        strings.TrimSpace(notes),
	})
	if err != nil {
		return nil, nil, err
	}
	if entry.Quantity < quantity {
		s.log.WithFields(logrus.Fields{
			"color_id":  colorID,
			"requested": quantity,
			"applied":   entry.Quantity,
		}).Warn("stock-out clamped at zero")
	}

	s.changed()
	return color, entry, nil
}

// UpdateStockInEntry corrects a past delivery record. The quantity delta
// propagates to the color's current stock.
func (s *Service) UpdateStockInEntry(ctx context.Context, id string, req domain.StockInUpdateRequest) (*domain.StockInHistory, error) {
	if id == "" || req.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	if req.Date != nil && !domain.ValidLedgerDate(*req.Date) {
		return nil, store.ErrInvalidInput
	}

	entry, err := s.repo.UpdateStockInEntry(ctx, id, req.Quantity, req.Notes, req.Date)
	if err != nil {
		return nil, err
	}
	s.changed()
	return entry, nil
}

func (s *Service) DeleteStockInEntry(ctx context.Context, id string) error {
	if id == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteStockInEntry(ctx, id); err != nil {
		return err
	}
	s.changed()
	return nil
}

func (s *Service) ListStockInHistory(ctx context.Context, colorID string, limit int) ([]domain.StockInHistory, error) {
	return s.repo.ListStockInHistory(ctx, colorID, limit)
}

func (s *Service) ListStockOutHistory(ctx context.Context, colorID string, limit int) ([]domain.StockOutHistory, error) {
	return s.repo.ListStockOutHistory(ctx, colorID, limit)
}

// StockMovements merges both history tables into one outward-facing feed,
// newest first.
func (s *Service) StockMovements(ctx context.Context, colorID string, limit int) ([]domain.StockMovement, error) {
	ins, err := s.repo.ListStockInHistory(ctx, colorID, limit)
	if err != nil {
		return nil, err
	}
	outs, err := s.repo.ListStockOutHistory(ctx, colorID, limit)
	if err != nil {
		return nil, err
	}

	movements := make([]domain.StockMovement, 0, len(ins)+len(outs))
	for _, e := range ins {
		movements = append(movements, domain.StockMovement{
			Direction:     "in",
			ID:            e.ID,
			ColorID:       e.ColorID,
			Quantity:      e.Quantity,
			PreviousStock: e.PreviousStock,
			NewStock:      e.NewStock,
			ReferenceID:   e.ReferenceID,
			Date:          e.StockInDate,
			Notes:         e.Notes,
			CreatedAt:     e.CreatedAt,
		})
	}
	for _, e := range outs {
		movements = append(movements, domain.StockMovement{
			Direction:     "out",
			ID:            e.ID,
			ColorID:       e.ColorID,
			Quantity:      e.Quantity,
			PreviousStock: e.PreviousStock,
			NewStock:      e.NewStock,
			MovementType:  e.MovementType,
			ReferenceID:   e.ReferenceID,
			Date:          e.StockOutDate,
			Notes:         e.Notes,
			CreatedAt:     e.CreatedAt,
		})
	}
	sort.Slice(movements, func(i, j int) bool { return movements[i].CreatedAt.After(movements[j].CreatedAt) })
	if limit > 0 && len(movements) > limit {
		movements = movements[:limit]
	}
	return movements, nil
}

// ReconcileReport describes one color's ledger check: the derived quantity is
// the sum of ins minus the sum of outs, and Repaired is set when the stored
// value had to be corrected to match it.
type ReconcileReport struct {
	ColorID   string `json:"color_id"`
	LedgerIn  int    `json:"ledger_in"`
	LedgerOut int    `json:"ledger_out"`
	Derived   int    `json:"derived"`
	Stored    int    `json:"stored"`
	Repaired  bool   `json:"repaired"`
}

// ReconcileColor repairs drift between the materialized stock quantity and
// the movement ledger. The ledger wins.
func (s *Service) ReconcileColor(ctx context.Context, colorID string) (*ReconcileReport, error) {
	color, err := s.repo.GetColor(ctx, colorID)
	if err != nil {
		return nil, err
	}
	in, out, err := s.repo.SumStockMovements(ctx, colorID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		ColorID:   colorID,
		LedgerIn:  in,
		LedgerOut: out,
		Derived:   in - out,
		Stored:    color.StockQuantity,
	}
	if report.Derived < 0 {
		report.Derived = 0
	}
	if report.Derived == report.Stored {
		return report, nil
	}

	if err := s.repo.SetColorStock(ctx, colorID, report.Derived); err != nil {
		return nil, err
	}
	report.Repaired = true
	s.log.WithFields(logrus.Fields{
		"color_id": colorID,
		"stored":   report.Stored,
		"derived":  report.Derived,
	}).Warn("stock drift repaired")

	s.changed()
	return report, nil
}

// ReconcileAll runs the ledger check over every color and returns only the
// reports that found drift.
func (s *Service) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	colors, err := s.repo.ListColors(ctx)
	if err != nil {
		return nil, err
	}

	repaired := make([]ReconcileReport, 0)
	for _, color := range colors {
		report, err := s.ReconcileColor(ctx, color.ID)
		if err != nil {
			return repaired, err
		}
		if report.Repaired {
			repaired = append(repaired, *report)
		}
	}
	return repaired, nil
}
