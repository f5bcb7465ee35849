package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ordersaga/internal/pkg/database"
	"ordersaga/internal/service/inventory/domain"
)

// Models lists the tables the inventory service needs migrated.
func Models() []any {
	return []any{&ProductModel{}, &ReservationModel{}}
}

// GormProductRepository is the MySQL product store. Inside a unit of work it
// reads with SELECT ... FOR UPDATE.
type GormProductRepository struct {
	db        *gorm.DB
	forUpdate bool
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	q := r.db.WithContext(ctx)
	if r.forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model ProductModel
	if err := q.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("product", id)
		}
		return nil, errors.Wrapf(err, "find product %s", id)
	}
	return ToDomainProduct(&model)
}

func (r *GormProductRepository) Save(ctx context.Context, p *domain.Product) error {
	if err := r.db.WithContext(ctx).Create(FromDomainProduct(p)).Error; err != nil {
		return errors.Wrapf(err, "insert product %s", p.ID)
	}
	return nil
}

func (r *GormProductRepository) Update(ctx context.Context, p *domain.Product) error {
	res := r.db.WithContext(ctx).Model(&ProductModel{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"stock":      p.Stock(),
		"active":     p.Active,
		"updated_at": p.UpdatedAt,
	})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update product %s", p.ID)
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFoundError("product", p.ID)
	}
	return nil
}

func (r *GormProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	var models []ProductModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	out := make([]*domain.Product, 0, len(models))
	for i := range models {
		p, err := ToDomainProduct(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type GormReservationRepository struct {
	db *gorm.DB
}

func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) Find(ctx context.Context, id string) (*domain.Reservation, error) {
	var model ReservationModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find reservation %s", id)
	}
	return ToDomainReservation(&model), nil
}

func (r *GormReservationRepository) Save(ctx context.Context, res *domain.Reservation) error {
	err := r.db.WithContext(ctx).Create(FromDomainReservation(res)).Error
	if database.IsDuplicateKey(err) {
		return errors.WithStack(domain.ErrReservationExists)
	}
	if err != nil {
		return errors.Wrapf(err, "insert reservation %s", res.ID)
	}
	return nil
}

func (r *GormReservationRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&ReservationModel{}).Error; err != nil {
		return errors.Wrapf(err, "delete reservation %s", id)
	}
	return nil
}

// GormUnitOfWork runs each unit in a database transaction.
type GormUnitOfWork struct {
	db *gorm.DB
}

func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

func (u *GormUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, domain.Repositories{
			Products:     &GormProductRepository{db: tx, forUpdate: true},
			Reservations: &GormReservationRepository{db: tx},
		})
	})
}
