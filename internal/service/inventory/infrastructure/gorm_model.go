package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductModel maps the products table.
type ProductModel struct {
	ID          string          `gorm:"primaryKey;type:char(36)"`
	Name        string          `gorm:"type:varchar(255);not null"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Currency    string          `gorm:"type:char(3);not null"`
	Stock       int             `gorm:"not null"`
	Active      bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProductModel) TableName() string {
	return "products"
}

// ReservationModel maps the reservations table. The primary key is the
// deterministic reservation id, which makes a replayed insert fail with 1062.
type ReservationModel struct {
	ID        string `gorm:"primaryKey;type:varchar(128)"`
	OrderID   string `gorm:"type:char(36);index;not null"`
	ProductID string `gorm:"type:char(36);not null"`
	Quantity  int    `gorm:"not null"`
	CreatedAt time.Time
}

func (ReservationModel) TableName() string {
	return "reservations"
}
