package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the dependencies of Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to products, prices and subscriptions
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for subscriptions
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(
		&Product{},
		&Price{},
		&Subscription{},
		&SubscriptionItem{},
		&SubscriptionSchedule{},
		&SubscriptionSchedulePhase{},
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

func upsert(tx *gorm.DB, v interface{}) error {
	return tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(v).Error
}

// UpsertProduct creates or replaces a Product
func (m *Manager) UpsertProduct(ctx context.Context, p *Product) error {
	if err := upsert(m.DB.WithContext(ctx), p); err != nil {
		m.Logger.Error("Database returned error",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot upsert product")
	}
	return nil
}

// UpsertPrice creates or replaces a Price. The Product is upserted as well when present
func (m *Manager) UpsertPrice(ctx context.Context, p *Price) error {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.Product != nil {
			if err := upsert(tx, p.Product); err != nil {
				return err
			}
		}
		return upsert(tx, p)
	})
	if err != nil {
		m.Logger.Error("Database returned error",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot upsert price")
	}
	return nil
}

// UpsertSubscription creates or replaces a Subscription and replaces its items.
// Prices referenced by the items are upserted when they are present.
// The schedule is left untouched, see UpsertSchedule.
func (m *Manager) UpsertSubscription(ctx context.Context, s *Subscription) error {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx, s); err != nil {
			return err
		}
		if err := tx.Where("subscription_id = ?", s.ID).Delete(&SubscriptionItem{}).Error; err != nil {
			return err
		}
		for i := range s.Items {
			item := &s.Items[i]
			item.SubscriptionID = s.ID
			if item.Price != nil {
				if item.Price.Product != nil {
					if err := upsert(tx, item.Price.Product); err != nil {
						return err
					}
				}
				if err := upsert(tx, item.Price); err != nil {
					return err
				}
			}
			if err := upsert(tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.Logger.Error("Database returned error",
			zap.String("SubscriptionID", s.ID),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot upsert subscription")
	}
	return nil
}

// UpsertSchedule creates or replaces a SubscriptionSchedule and its phases
func (m *Manager) UpsertSchedule(ctx context.Context, sch *SubscriptionSchedule) error {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// a subscription has at most one schedule at a time
		if err := deleteSchedules(tx.Where("subscription_id = ? AND id <> ?", sch.SubscriptionID, sch.ID)); err != nil {
			return err
		}
		if err := upsert(tx, sch); err != nil {
			return err
		}
		if err := tx.Where("schedule_id = ?", sch.ID).Delete(&SubscriptionSchedulePhase{}).Error; err != nil {
			return err
		}
		for i := range sch.Phases {
			phase := &sch.Phases[i]
			phase.ID = 0
			phase.ScheduleID = sch.ID
			if err := tx.Omit(clause.Associations).Create(phase).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.Logger.Error("Database returned error",
			zap.String("ScheduleID", sch.ID),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot upsert subscription schedule")
	}
	return nil
}

// DeleteSchedule removes a schedule once it was released, canceled or completed
func (m *Manager) DeleteSchedule(ctx context.Context, scheduleID string) error {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteSchedules(tx.Where("id = ?", scheduleID))
	})
	if err != nil {
		m.Logger.Error("Database returned error",
			zap.String("ScheduleID", scheduleID),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot delete subscription schedule")
	}
	return nil
}

// DeleteScheduleForSubscription removes any schedule attached to the subscription
func (m *Manager) DeleteScheduleForSubscription(ctx context.Context, subscriptionID string) error {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteSchedules(tx.Where("subscription_id = ?", subscriptionID))
	})
	if err != nil {
		m.Logger.Error("Database returned error",
			zap.String("SubscriptionID", subscriptionID),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot delete subscription schedule")
	}
	return nil
}

func deleteSchedules(scoped *gorm.DB) error {
	var ids []string
	if err := scoped.Model(&SubscriptionSchedule{}).Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tx := scoped.Session(&gorm.Session{NewDB: true})
	if err := tx.Where("schedule_id IN ?", ids).Delete(&SubscriptionSchedulePhase{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&SubscriptionSchedule{}).Error
}

func preloadSubscription(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Items.Price.Product").
		Preload("Schedule.Phases.Price.Product")
}

func sortPhases(s *Subscription) {
	if s.Schedule == nil {
		return
	}
	sort.SliceStable(s.Schedule.Phases, func(i, j int) bool {
		return s.Schedule.Phases[i].StartDate.Before(s.Schedule.Phases[j].StartDate)
	})
}

// GetLatest returns the most recently created subscription of the organization,
// with items, prices, products and schedule phases (ordered by start date) loaded
func (m *Manager) GetLatest(ctx context.Context, organizationID string) (*Subscription, error) {
	var sub Subscription

	result := preloadSubscription(m.DB.WithContext(ctx)).
		Where("organization_id = ?", organizationID).
		Order("created_at desc").
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get latest subscription")
	}

	sortPhases(&sub)
	return &sub, nil
}

// GetByID returns the subscription with the same associations as GetLatest
func (m *Manager) GetByID(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription

	result := preloadSubscription(m.DB.WithContext(ctx)).First(&sub, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by id")
	}

	sortPhases(&sub)
	return &sub, nil
}

// ListProducts returns every active product
func (m *Manager) ListProducts(ctx context.Context) ([]Product, error) {
	products := make([]Product, 0, 3)

	result := m.DB.WithContext(ctx).
		Where("active = ?", true).
		Order("id asc").
		Find(&products)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list products")
	}
	return products, nil
}

// GetPriceByLookupKey returns the active price with the lookup key, and its product
func (m *Manager) GetPriceByLookupKey(ctx context.Context, lookupKey string) (*Price, error) {
	var price Price

	result := m.DB.WithContext(ctx).
		Preload("Product").
		Where("lookup_key = ?", lookupKey).
		Where("active = ?", true).
		First(&price)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get price by lookup key")
	}
	return &price, nil
}
