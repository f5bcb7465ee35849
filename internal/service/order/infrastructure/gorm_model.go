package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel maps the orders table.
type OrderModel struct {
	ID           string          `gorm:"primaryKey;type:char(36)"`
	CustomerID   string          `gorm:"type:varchar(64);index:idx_orders_customer_created,priority:1"`
	Status       string          `gorm:"type:varchar(16);index:idx_orders_status_created,priority:1"`
	Total        decimal.Decimal `gorm:"type:decimal(14,2)"`
	Currency     string          `gorm:"type:char(3)"`
	RedriveCount int             `gorm:"not null;default:0"`
	CreatedAt    time.Time       `gorm:"index:idx_orders_customer_created,priority:2;index:idx_orders_status_created,priority:2"`
	UpdatedAt    time.Time
	Items        []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel maps the order_items table. Lines are written once with the order.
type OrderItemModel struct {
	ID          uint            `gorm:"primaryKey"`
	OrderID     string          `gorm:"type:char(36);index"`
	Position    int             `gorm:"not null"`
	ProductID   string          `gorm:"type:varchar(64)"`
	ProductName string          `gorm:"type:varchar(255)"`
	Quantity    int             `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(14,2)"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(14,2)"`
}

func (OrderItemModel) TableName() string {
	return "order_items"
}
