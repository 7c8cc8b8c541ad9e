package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mealmate/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type store struct {
	db *gorm.DB
}

// NewStore returns a repository.Store backed by gorm. Any gorm dialect works; row
// locks are rendered as SELECT ... FOR UPDATE where the dialect supports them.
func NewStore(db *gorm.DB) repository.Store {
	return &store{db: db}
}

func (s *store) Carts() repository.CartRepository       { return &cartRepo{db: s.db} }
func (s *store) Orders() repository.OrderRepository     { return &orderRepo{db: s.db} }
func (s *store) Payments() repository.PaymentRepository { return &paymentRepo{db: s.db} }
func (s *store) Refunds() repository.RefundRepository   { return &refundRepo{db: s.db} }
func (s *store) Webhooks() repository.WebhookRepository { return &webhookRepo{db: s.db} }
func (s *store) Ledger() repository.LedgerRepository    { return &ledgerRepo{db: s.db} }

func (s *store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{db: tx})
	})
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// first runs q.First and maps a missing row to (nil, nil).
func first[T any](q *gorm.DB) (*T, error) {
	var out T
	if err := q.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		return fmt.Errorf("%w: %v", repository.ErrDuplicateKey, err)
	}
	return err
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

func page(db *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return db.Limit(limit).Offset(offset)
}
