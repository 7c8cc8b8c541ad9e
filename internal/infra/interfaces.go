package infra

import "context"

// CatalogInterface returns (nil, nil) for ids the catalog does not know.
type CatalogInterface interface {
	GetMenuItem(ctx context.Context, id uint64) (*MenuItemInfo, error)
	GetRestaurant(ctx context.Context, id uint64) (*RestaurantInfo, error)
}

var (
	_ CatalogInterface = (*CatalogClient)(nil)
	_ CatalogInterface = (*CachedCatalog)(nil)
)
