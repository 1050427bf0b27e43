package pipeline

import (
	"context"
	"testing"

	"github.com/modularcrm/syncqueue/internal/logger"
	"github.com/modularcrm/syncqueue/internal/model"
	"github.com/modularcrm/syncqueue/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// draftOrder exercises the confirmation path.
type draftOrder struct {
	ID   uint64 `gorm:"primaryKey"`
	Note string
}

func (draftOrder) TableName() string { return "draft_orders" }

func (d *draftOrder) GetID() uint64 { return d.ID }

func (d *draftOrder) BeforeSave(ctx context.Context) error {
	if d.Note == "needs-approval" {
		return &ConfirmationError{Step: "approve-order", Options: []string{"approve", "reject"}}
	}
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, repo.RepositoryInterface, context.Context) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	sqlDB, err := db.DB()
	assert.NoError(t, err)
	// sqlite gives each pooled connection its own in-memory database
	sqlDB.SetMaxOpenConns(1)
	assert.NoError(t, db.AutoMigrate(&model.Product{}, &model.Customer{}, &draftOrder{}))

	log, err := logger.NewLogger()
	assert.NoError(t, err)

	r := repo.NewRepository(db, nil, nil, log)
	return New(r, log), r, context.Background()
}

func TestSave_RunsBeforeSaveHook(t *testing.T) {
	p, r, ctx := newTestPipeline(t)

	c := &model.Customer{Email: " Jane@Example.COM ", Name: "Jane", Tier: "standard"}
	out, err := p.Save(ctx, c)
	assert.NoError(t, err)
	assert.Equal(t, Saved, out.State)
	assert.NotZero(t, out.DocumentID)

	var got model.Customer
	assert.NoError(t, r.DB(ctx).First(&got, out.DocumentID).Error)
	assert.Equal(t, "jane@example.com", got.Email)
}

func TestSave_HookRejectionIsFailedOutcome(t *testing.T) {
	p, r, ctx := newTestPipeline(t)

	bad := &model.Product{SKU: "p-1", Name: "Broken", Price: decimal.NewFromInt(-1)}
	out, err := p.Save(ctx, bad)
	assert.NoError(t, err)
	assert.Equal(t, Failed, out.State)
	assert.Equal(t, model.ErrNegativePrice.Error(), out.Reason)

	// nothing persisted
	var count int64
	assert.NoError(t, r.DB(ctx).Model(&model.Product{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSave_ConfirmationIsAValueNotAnError(t *testing.T) {
	p, _, ctx := newTestPipeline(t)

	out, err := p.Save(ctx, &draftOrder{Note: "needs-approval"})
	assert.NoError(t, err)
	assert.Equal(t, NeedsConfirmation, out.State)
	assert.Equal(t, "approve-order", out.Step)
	assert.Equal(t, []string{"approve", "reject"}, out.Options)
}

func TestDelete_RunsBeforeDeleteHook(t *testing.T) {
	p, r, ctx := newTestPipeline(t)

	std := &model.Customer{ID: 1, Email: "a@b.c", Name: "A", Tier: "standard"}
	vip := &model.Customer{ID: 2, Email: "v@b.c", Name: "V", Tier: "vip"}
	assert.NoError(t, r.DB(ctx).Create(std).Error)
	assert.NoError(t, r.DB(ctx).Create(vip).Error)

	out, err := p.Delete(ctx, std)
	assert.NoError(t, err)
	assert.Equal(t, Deleted, out.State)
	assert.ErrorIs(t, r.DB(ctx).First(&model.Customer{}, 1).Error, gorm.ErrRecordNotFound)

	out, err = p.Delete(ctx, vip)
	assert.NoError(t, err)
	assert.Equal(t, Failed, out.State)
	assert.Equal(t, model.ErrVIPDelete.Error(), out.Reason)
	assert.NoError(t, r.DB(ctx).First(&model.Customer{}, 2).Error)
}
