package service

import (
	"context"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(repo, cache.NewMemoryOutstandingCache(), log), repo
}

// seedColor creates an inventory unit and stocks it to the given quantity.
func seedColor(t *testing.T, svc *Service, name string, quantity int) *domain.Color {
	t.Helper()
	ctx := context.Background()

	color, err := svc.CreateColor(ctx, name, nil)
	if err != nil {
		t.Fatalf("create color %s: %v", name, err)
	}
	if quantity > 0 {
		color, _, err = svc.StockIn(ctx, domain.StockInRequest{ColorID: color.ID, Quantity: quantity})
		if err != nil {
			t.Fatalf("stock in %s: %v", name, err)
		}
	}
	return color
}

func dec(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}
