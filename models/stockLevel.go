package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StockLocation struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Address    string    `gorm:"type:text" json:"address"`
	IsDefault  *bool     `gorm:"not null;default:false" json:"is_default"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStockLocation struct {
	Name      string `json:"name" binding:"required"`
	Address   string `json:"address"`
	IsDefault *bool  `json:"is_default"`
}

// StockLevel is the per-location on-hand counter. One row per
// (business, location, product). Businesses without locations fall back to
// Product.StockQty instead.
type StockLevel struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"size:64;not null;index:uniq_stock_level,unique" json:"business_id"`
	StockLocationId int             `gorm:"not null;index:uniq_stock_level,unique" json:"stock_location_id"`
	ProductId       int             `gorm:"not null;index:uniq_stock_level,unique" json:"product_id"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (input *NewStockLocation) validate(ctx context.Context, businessId string, id int) error {
	if err := utils.ValidateUnique[StockLocation](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateStockLocation(ctx context.Context, input *NewStockLocation) (*StockLocation, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	location := StockLocation{
		BusinessId: businessId,
		Name:       input.Name,
		Address:    input.Address,
		IsDefault:  input.IsDefault,
		IsActive:   utils.NewTrue(),
	}
	if location.IsDefault == nil {
		location.IsDefault = utils.NewFalse()
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func GetStockLocationsAll(ctx context.Context) ([]*StockLocation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[StockLocation](ctx, businessId)
}

// BusinessTracksLocationsTx reports whether the business keeps per-location
// stock rows. Checked inside the stock-out transaction so both code paths see
// a consistent snapshot.
func BusinessTracksLocationsTx(tx *gorm.DB, businessId string) (bool, error) {
	var count int64
	if err := tx.Model(&StockLocation{}).
		Where("business_id = ? AND is_active = true", businessId).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func DefaultStockLocationIdTx(tx *gorm.DB, businessId string) (int, error) {
	var id int
	err := tx.Model(&StockLocation{}).
		Where("business_id = ? AND is_active = true", businessId).
		Order("is_default DESC, id").
		Limit(1).
		Select("id").
		Scan(&id).Error
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("no active stock location")
	}
	return id, nil
}

// AdjustStockLevelTx applies a signed delta to the (location, product) row,
// creating the row on first touch. The delta uses a relative UPDATE so two
// concurrent dispatches never clobber each other's writes.
func AdjustStockLevelTx(tx *gorm.DB, businessId string, locationId int, productId int, delta decimal.Decimal) error {
	result := tx.Model(&StockLevel{}).
		Where("business_id = ? AND stock_location_id = ? AND product_id = ?", businessId, locationId, productId).
		Update("qty", gorm.Expr("qty + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	level := StockLevel{
		BusinessId:      businessId,
		StockLocationId: locationId,
		ProductId:       productId,
		Qty:             delta,
	}
	if err := tx.Create(&level).Error; err != nil {
		// lost the insert race, retry as update
		if IsDuplicateKeyError(err) {
			return tx.Model(&StockLevel{}).
				Where("business_id = ? AND stock_location_id = ? AND product_id = ?", businessId, locationId, productId).
				Update("qty", gorm.Expr("qty + ?", delta)).Error
		}
		return err
	}
	return nil
}

// GetStockOnHand returns the location-summed quantity when the business
// tracks locations, else the product fallback counter.
func GetStockOnHand(ctx context.Context, businessId string, productId int) (decimal.Decimal, error) {
	db := config.GetDB()

	tracks, err := BusinessTracksLocationsTx(db.WithContext(ctx), businessId)
	if err != nil {
		return decimal.Zero, err
	}

	if tracks {
		var qty decimal.NullDecimal
		if err := db.WithContext(ctx).Model(&StockLevel{}).
			Where("business_id = ? AND product_id = ?", businessId, productId).
			Select("SUM(qty)").
			Scan(&qty).Error; err != nil {
			return decimal.Zero, err
		}
		if !qty.Valid {
			return decimal.Zero, nil
		}
		return qty.Decimal, nil
	}

	var stockQty decimal.Decimal
	err = db.WithContext(ctx).Model(&Product{}).
		Where("business_id = ? AND id = ?", businessId, productId).
		Select("stock_qty").
		Scan(&stockQty).Error
	if err != nil {
		return decimal.Zero, err
	}
	return stockQty, nil
}
