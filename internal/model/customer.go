package model

import (
	"context"
	"errors"
	"strings"
)

// ErrVIPDelete guards against dropping protected customers.
var ErrVIPDelete = errors.New("vip customers cannot be deleted")

// Customer is owned by the crm module.
type Customer struct {
	ID    uint64 `gorm:"primaryKey" json:"id"`
	Email string `gorm:"size:128;not null" json:"email"`
	Name  string `gorm:"size:128;not null" json:"name"`
	Tier  string `gorm:"size:32;not null;default:'standard'" json:"tier"`
}

func (Customer) TableName() string { return "customers" }

func (c *Customer) GetID() uint64 { return c.ID }

// BeforeSave normalizes the email address.
func (c *Customer) BeforeSave(ctx context.Context) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	return nil
}

// BeforeDelete is a pre-delete pipeline check.
func (c *Customer) BeforeDelete(ctx context.Context) error {
	if c.Tier == "vip" {
		return ErrVIPDelete
	}
	return nil
}
