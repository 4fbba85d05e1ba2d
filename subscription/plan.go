package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strconv"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// PlanPrice describes one billing cadence of a Plan. This corresponds to Stripe's "Price"
type PlanPrice struct {
	LookupKey  string `json:"lookupKey" validate:"required"`
	UnitAmount int64  `json:"unitAmount" validate:"gt=0"`          // per seat, in cents
	Interval   string `json:"interval" validate:"oneof=month year"` // Stripe's recurring interval
}

// Plan describes a seat-capped plan. This corresponds to Stripe's "Product"
type Plan struct {
	Name        string      `json:"name" validate:"required"`
	Description string      `json:"description"`
	Currency    string      `json:"currency" validate:"required,len=3"`
	MaxSeats    int         `json:"maxSeats" validate:"gt=0"`
	Prices      []PlanPrice `json:"prices" validate:"required,dive"`
	Retired     bool        `json:"retired"` // Archived on Stripe
}

// LoadPlansFromFile will read from the plan JSON file to define what plans are availble for purchase.
// If you change the amount of a price after it was created on Stripe, give it a new lookup key.
func LoadPlansFromFile(filename string) ([]Plan, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open plans JSON file")
	}
	plans := make([]Plan, 0, 3)
	if err := json.Unmarshal(jsonBytes, &plans); err != nil {
		return nil, extErrors.Wrap(err, "Invalid plan JSON file")
	}
	for _, p := range plans {
		if err := validate.Struct(&p); err != nil {
			return nil, extErrors.Wrapf(err, "Invalid plan %s", p.Name)
		}
	}
	return plans, nil
}

// Metadata returns the product metadata for the plan
func (p *Plan) Metadata() map[string]string {
	return map[string]string{
		MaxSeatsKey: strconv.Itoa(p.MaxSeats),
	}
}

// CatalogProvider is the payment provider side of the plan catalog
type CatalogProvider interface {
	// ListPricesByLookupKeys returns the active prices with their products expanded
	ListPricesByLookupKeys(ctx context.Context, lookupKeys []string) ([]*Price, error)
	CreateProduct(ctx context.Context, plan Plan) (*Product, error)
	UpdateProduct(ctx context.Context, productID string, plan Plan) (*Product, error)
	CreatePrice(ctx context.Context, productID string, currency string, price PlanPrice) (*Price, error)
}

// SyncCatalog will ensure that every Plan exists on the payment provider, and store
// the resulting products and prices in the database
func (m *Manager) SyncCatalog(ctx context.Context, provider CatalogProvider, plans []Plan) error {
	if provider == nil {
		return fmt.Errorf("nil CatalogProvider is invalid")
	}
	for _, plan := range plans {
		if err := m.ensureExistence(ctx, provider, plan); err != nil {
			return extErrors.Wrapf(err, "Cannot ensure Plan %s existence", plan.Name)
		}
	}
	return nil
}

func (m *Manager) ensureExistence(ctx context.Context, provider CatalogProvider, plan Plan) error {
	logger := m.Logger.With(zap.String("Plan", plan.Name))

	keys := make([]string, 0, len(plan.Prices))
	for _, price := range plan.Prices {
		keys = append(keys, price.LookupKey)
	}
	existing, err := provider.ListPricesByLookupKeys(ctx, keys)
	if err != nil {
		return err
	}

	found := make(map[string]*Price)
	var product *Product
	for _, price := range existing {
		if product == nil {
			product = price.Product
		}
		if product == nil || price.ProductID != product.ID {
			return fmt.Errorf("Price \"%s\" is in a different Product", price.LookupKey)
		}
		found[price.LookupKey] = price
	}

	if product == nil {
		logger.Info("Plan does not exist, creating")
		product, err = provider.CreateProduct(ctx, plan)
		if err != nil {
			return err
		}
	} else {
		// synchronize seat capacity and retired/archived status
		product, err = provider.UpdateProduct(ctx, product.ID, plan)
		if err != nil {
			return err
		}
	}
	if err := m.UpsertProduct(ctx, product); err != nil {
		return err
	}

	for _, planPrice := range plan.Prices {
		price, ok := found[planPrice.LookupKey]
		if !ok {
			logger.Info("Price does not exist, creating",
				zap.String("LookupKey", planPrice.LookupKey),
			)
			price, err = provider.CreatePrice(ctx, product.ID, plan.Currency, planPrice)
			if err != nil {
				return err
			}
		}
		price.Product = nil
		price.ProductID = product.ID
		if err := m.UpsertPrice(ctx, price); err != nil {
			return err
		}
	}
	return nil
}
