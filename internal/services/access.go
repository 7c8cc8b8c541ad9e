package services

import (
	"context"
	"fmt"

	"mealmate/internal/domain"
	"mealmate/internal/infra"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mealmate/services")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Code(err))
	}
	span.End()
}

// access resolves whether an actor may see or act on an order. Orders the actor
// cannot see are reported as not found.
type access struct {
	catalog infra.CatalogInterface
}

func (a access) ownsRestaurant(ctx context.Context, actor domain.Actor, restaurantID uint64) (bool, error) {
	if actor.Role != domain.RoleRestaurant {
		return false, nil
	}
	r, err := a.catalog.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return false, fmt.Errorf("catalog lookup: %w", err)
	}
	return r != nil && r.OwnerID == actor.ID, nil
}

func (a access) canView(ctx context.Context, actor domain.Actor, order *domain.Order) error {
	switch {
	case actor.Staff():
		return nil
	case actor.Role == domain.RoleCustomer && order.CustomerID == actor.ID:
		return nil
	}
	owns, err := a.ownsRestaurant(ctx, actor, order.RestaurantID)
	if err != nil {
		return err
	}
	if !owns {
		return domain.NotFoundf("order %d not found", order.ID)
	}
	return nil
}

// canFulfil is for status changes driven by the kitchen or courier.
func (a access) canFulfil(ctx context.Context, actor domain.Actor, order *domain.Order) error {
	if err := a.canView(ctx, actor, order); err != nil {
		return err
	}
	if actor.Role == domain.RoleCustomer {
		return domain.Forbiddenf("customers cannot change order status")
	}
	return nil
}

func requireCustomer(actor domain.Actor) error {
	if actor.Role != domain.RoleCustomer || actor.ID == 0 {
		return domain.Forbiddenf("only customers can do this")
	}
	return nil
}

func requireStaff(actor domain.Actor) error {
	if !actor.Staff() {
		return domain.Forbiddenf("only staff can manage refunds")
	}
	return nil
}
