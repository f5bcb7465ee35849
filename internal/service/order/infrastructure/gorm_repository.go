package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"ordersaga/internal/service/order/domain"
)

// GormOrderRepository is the MySQL implementation of domain.OrderRepository.
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Models lists the tables this repository needs migrated.
func Models() []any {
	return []any{&OrderModel{}, &OrderItemModel{}}
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "insert order %s", order.ID)
	}
	return nil
}

// Update writes status and timestamps only; lines and the redrive counter are
// owned by Save and IncrementRedrive.
func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"status":     order.Status().String(),
		"updated_at": order.UpdatedAt,
	})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update order %s", order.ID)
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFoundError("order", order.ID)
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("order", id)
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return ToDomainOrder(&model)
}

func (r *GormOrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of %s", customerID)
	}
	return toDomainOrders(models)
}

func (r *GormOrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	q := r.db.WithContext(ctx).Preload("Items").
		Where("status = ? AND created_at < ?", domain.StatusPending.String(), cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list stale pending orders")
	}
	return toDomainOrders(models)
}

func (r *GormOrderRepository) IncrementRedrive(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&OrderModel{}).Where("id = ?", id).
			UpdateColumn("redrive_count", gorm.Expr("redrive_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.NewNotFoundError("order", id)
		}
		return tx.Model(&OrderModel{}).Select("redrive_count").Where("id = ?", id).Row().Scan(&count)
	})
	if err != nil {
		if domain.IsNotFound(err) {
			return 0, err
		}
		return 0, errors.Wrapf(err, "increment redrive of order %s", id)
	}
	return count, nil
}

func toDomainOrders(models []OrderModel) ([]*domain.Order, error) {
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		o, err := ToDomainOrder(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
