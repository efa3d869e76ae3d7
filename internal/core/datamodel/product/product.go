package product

import (
	"time"

	"github.com/shopspring/decimal"
)

// VirtualProduct is a resold subscription offering. The catalog is mostly
// static seed data.
type VirtualProduct struct {
	ID          int64           `gorm:"primaryKey"`
	Ref         string          `gorm:"column:ref;not null;uniqueIndex"`
	Name        string          `gorm:"column:name;not null"`
	Description string          `gorm:"column:description"`
	Category    string          `gorm:"column:category"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	Currency    string          `gorm:"column:currency;default:CNY"`
	Duration    string          `gorm:"column:duration"`
	IsActive    bool            `gorm:"column:is_active;default:true"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

func (VirtualProduct) TableName() string {
	return "products"
}
