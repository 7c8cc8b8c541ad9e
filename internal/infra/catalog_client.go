package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type MenuItemInfo struct {
	ID            uint64           `json:"id"`
	RestaurantID  uint64           `json:"restaurantId"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discountPrice,omitempty"`
	IsAvailable   bool             `json:"isAvailable"`
}

// EffectivePrice is the discount price when one is set, otherwise the list price.
func (m *MenuItemInfo) EffectivePrice() decimal.Decimal {
	if m.DiscountPrice != nil && m.DiscountPrice.IsPositive() {
		return *m.DiscountPrice
	}
	return m.Price
}

type RestaurantInfo struct {
	ID             uint64          `json:"id"`
	OwnerID        uint64          `json:"ownerId"`
	Name           string          `json:"name"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
	MinimumOrder   decimal.Decimal `json:"minimumOrder"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	IsActive       bool            `json:"isActive"`
}

// CatalogClient reads menu items and restaurants from the catalog service.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CatalogClient) GetMenuItem(ctx context.Context, id uint64) (*MenuItemInfo, error) {
	var m MenuItemInfo
	found, err := c.get(ctx, fmt.Sprintf("%s/menu-items/%d", c.baseURL, id), &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

func (c *CatalogClient) GetRestaurant(ctx context.Context, id uint64) (*RestaurantInfo, error) {
	var r RestaurantInfo
	found, err := c.get(ctx, fmt.Sprintf("%s/restaurants/%d", c.baseURL, id), &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (c *CatalogClient) get(ctx context.Context, url string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("catalog service returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}
