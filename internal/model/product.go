package model

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNegativePrice is raised by the product save pipeline.
var ErrNegativePrice = errors.New("product price must not be negative")

// Product is owned by the catalog module; other modules hold a
// replicated projection and forward their writes.
type Product struct {
	ID    uint64          `gorm:"primaryKey" json:"id"`
	SKU   string          `gorm:"size:64;not null" json:"sku"`
	Name  string          `gorm:"size:128;not null" json:"name"`
	Price decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"price"`
	Stock int             `gorm:"not null;default:0" json:"stock"`
}

func (Product) TableName() string { return "products" }

func (p *Product) GetID() uint64 { return p.ID }

// BeforeSave runs as a pipeline lifecycle hook.
func (p *Product) BeforeSave(ctx context.Context) error {
	if p.Price.IsNegative() {
		return ErrNegativePrice
	}
	return nil
}
