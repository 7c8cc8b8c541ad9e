package services

import (
	"context"
	"fmt"

	"mealmate/internal/domain"
	"mealmate/internal/infra"
	"mealmate/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CartService struct {
	store   repository.Store
	catalog infra.CatalogInterface
	logger  *zap.Logger
}

func NewCartService(store repository.Store, catalog infra.CatalogInterface, logger *zap.Logger) *CartService {
	return &CartService{store: store, catalog: catalog, logger: logger}
}

type AddItemInput struct {
	Actor               domain.Actor
	MenuItemID          uint64
	Quantity            int
	SpecialInstructions string
	// ReplaceCart empties a cart holding another restaurant's items instead of
	// rejecting the add.
	ReplaceCart bool
}

type CartView struct {
	Cart   *domain.Cart      `json:"cart"`
	Totals domain.CartTotals `json:"totals"`
}

func newCartView(cart *domain.Cart) *CartView {
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &CartView{Cart: cart, Totals: cart.Totals()}
}

// AddItem snapshots the catalog's effective price into the cart. Re-adding an item
// already in the cart increases its quantity and keeps the original price.
func (s *CartService) AddItem(ctx context.Context, in AddItemInput) (_ *CartView, err error) {
	ctx, span := tracer.Start(ctx, "CartService.AddItem")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("menu_item_id", int64(in.MenuItemID)))

	if err := requireCustomer(in.Actor); err != nil {
		return nil, err
	}
	if in.Quantity < 1 {
		return nil, domain.Validationf("quantity must be at least 1")
	}

	item, err := s.catalog.GetMenuItem(ctx, in.MenuItemID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	if item == nil {
		return nil, domain.NotFoundf("menu item %d not found", in.MenuItemID)
	}
	if !item.IsAvailable {
		return nil, domain.Validationf("menu item %q is not available", item.Name)
	}
	price := item.EffectivePrice()
	if !price.IsPositive() || !domain.IsMoneyPrecision(price) {
		return nil, fmt.Errorf("catalog returned invalid price %s for menu item %d", price, item.ID)
	}

	var cart *domain.Cart
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		cart, err = tx.Carts().GetOrCreateForUpdate(ctx, in.Actor.ID)
		if err != nil {
			return err
		}

		if len(cart.Items) > 0 && cart.RestaurantID != nil && *cart.RestaurantID != item.RestaurantID {
			if !in.ReplaceCart {
				return domain.Validationf("cart already contains items from another restaurant")
			}
			if err := tx.Carts().ClearItems(ctx, cart.ID); err != nil {
				return err
			}
			cart.Items = nil
		}
		restaurantID := item.RestaurantID
		cart.RestaurantID = &restaurantID

		if existing := cart.Item(item.ID); existing != nil {
			existing.Quantity += in.Quantity
			if in.SpecialInstructions != "" {
				existing.SpecialInstructions = in.SpecialInstructions
			}
			if err := tx.Carts().UpdateItem(ctx, existing); err != nil {
				return err
			}
		} else {
			added := domain.CartItem{
				CartID:              cart.ID,
				MenuItemID:          item.ID,
				RestaurantID:        item.RestaurantID,
				Name:                item.Name,
				Quantity:            in.Quantity,
				UnitPrice:           price,
				SpecialInstructions: in.SpecialInstructions,
			}
			if err := tx.Carts().CreateItem(ctx, &added); err != nil {
				return err
			}
			cart.Items = append(cart.Items, added)
		}
		return tx.Carts().Save(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return newCartView(cart), nil
}

// UpdateQuantity sets an item's quantity. Zero or less removes the item.
func (s *CartService) UpdateQuantity(ctx context.Context, actor domain.Actor, menuItemID uint64, quantity int) (_ *CartView, err error) {
	ctx, span := tracer.Start(ctx, "CartService.UpdateQuantity")
	defer func() { endSpan(span, err) }()

	if quantity <= 0 {
		return s.RemoveItem(ctx, actor, menuItemID)
	}
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		cart, err = tx.Carts().FindByCustomerForUpdate(ctx, actor.ID)
		if err != nil {
			return err
		}
		if cart == nil || cart.Item(menuItemID) == nil {
			return domain.NotFoundf("menu item %d is not in the cart", menuItemID)
		}
		item := cart.Item(menuItemID)
		item.Quantity = quantity
		return tx.Carts().UpdateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return newCartView(cart), nil
}

// RemoveItem drops an item. Removing the last item leaves an empty cart bound to
// no restaurant.
func (s *CartService) RemoveItem(ctx context.Context, actor domain.Actor, menuItemID uint64) (_ *CartView, err error) {
	ctx, span := tracer.Start(ctx, "CartService.RemoveItem")
	defer func() { endSpan(span, err) }()

	if err := requireCustomer(actor); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		cart, err = tx.Carts().FindByCustomerForUpdate(ctx, actor.ID)
		if err != nil {
			return err
		}
		if cart == nil || cart.Item(menuItemID) == nil {
			return domain.NotFoundf("menu item %d is not in the cart", menuItemID)
		}
		if err := tx.Carts().DeleteItem(ctx, cart.ID, menuItemID); err != nil {
			return err
		}

		kept := cart.Items[:0]
		for _, it := range cart.Items {
			if it.MenuItemID != menuItemID {
				kept = append(kept, it)
			}
		}
		cart.Items = kept
		if len(cart.Items) == 0 {
			cart.RestaurantID = nil
		}
		return tx.Carts().Save(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return newCartView(cart), nil
}

// GetCart returns the customer's cart with totals derived from its current items.
func (s *CartService) GetCart(ctx context.Context, actor domain.Actor) (*CartView, error) {
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}
	cart, err := s.store.Carts().FindByCustomer(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		cart = &domain.Cart{CustomerID: actor.ID}
	}
	return newCartView(cart), nil
}

func (s *CartService) Clear(ctx context.Context, actor domain.Actor) (*CartView, error) {
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		cart, err = tx.Carts().GetOrCreateForUpdate(ctx, actor.ID)
		if err != nil {
			return err
		}
		if err := tx.Carts().ClearItems(ctx, cart.ID); err != nil {
			return err
		}
		cart.Items = nil
		cart.RestaurantID = nil
		return tx.Carts().Save(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return newCartView(cart), nil
}
