package services

import (
	"context"

	"mealmate/internal/domain"
	"mealmate/internal/infra"
	"mealmate/internal/repository"
)

// LedgerService exposes read access to ledger entries. Entries are only written by
// the settlement helpers.
type LedgerService struct {
	store  repository.Store
	access access
}

func NewLedgerService(store repository.Store, catalog infra.CatalogInterface) *LedgerService {
	return &LedgerService{store: store, access: access{catalog: catalog}}
}

func (s *LedgerService) ListForUser(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Transaction, error) {
	if actor.ID == 0 {
		return nil, domain.Forbiddenf("ledger requires an identified user")
	}
	return s.store.Ledger().ListByUser(ctx, actor.ID, limit, offset)
}

func (s *LedgerService) ListForOrder(ctx context.Context, orderID uint64, actor domain.Actor) ([]domain.Transaction, error) {
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.NotFoundf("order %d not found", orderID)
	}
	if err := s.access.canView(ctx, actor, order); err != nil {
		return nil, err
	}
	return s.store.Ledger().ListByOrder(ctx, orderID)
}
