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

type Product struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"index;not null" json:"business_id"`
	Name       string `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku        string `gorm:"size:100" json:"sku"`
	Unit       string `gorm:"size:50" json:"unit"`
	// Labor items never touch the inventory ledger.
	IsLabor *bool `gorm:"not null;default:false" json:"is_labor"`
	// CoveragePerUnit is the area one discrete unit covers, e.g. sqft per box.
	// Zero means the business default applies.
	CoveragePerUnit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"coverage_per_unit"`
	// StockQty is the fallback on-hand counter used when the business does not
	// keep per-location stock rows.
	StockQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_qty"`
	IsActive  *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name            string          `json:"name" binding:"required"`
	Sku             string          `json:"sku"`
	Unit            string          `json:"unit"`
	IsLabor         *bool           `json:"is_labor"`
	CoveragePerUnit decimal.Decimal `json:"coverage_per_unit"`
	StockQty        decimal.Decimal `json:"stock_qty"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewProduct) validate(ctx context.Context, businessId string, id int) error {
	// name
	if err := utils.ValidateUnique[Product](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	// sku
	if len(input.Sku) > 0 {
		if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, id); err != nil {
			return err
		}
	}
	if input.CoveragePerUnit.IsNegative() {
		return utils.NewValidationError("coverage_per_unit", "must not be negative")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	product := Product{
		BusinessId:      businessId,
		Name:            input.Name,
		Sku:             input.Sku,
		Unit:            input.Unit,
		IsLabor:         input.IsLabor,
		CoveragePerUnit: input.CoveragePerUnit,
		StockQty:        input.StockQty,
		IsActive:        utils.NewTrue(),
	}
	if product.IsLabor == nil {
		product.IsLabor = utils.NewFalse()
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&product).
		Updates(map[string]interface{}{
			"Name":            input.Name,
			"Sku":             input.Sku,
			"Unit":            input.Unit,
			"IsLabor":         input.IsLabor,
			"CoveragePerUnit": input.CoveragePerUnit,
		}).Error; err != nil {
		return nil, err
	}
	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Product](ctx, businessId, id)
}

func GetProductsAll(ctx context.Context, name *string) ([]*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Product
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	err := dbCtx.Order("name").Limit(config.SearchLimit).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// AdjustProductStockTx applies a signed delta to the fallback stock counter.
// Must run inside the caller's transaction so the ledger row and the counter
// commit together.
func AdjustProductStockTx(tx *gorm.DB, businessId string, productId int, delta decimal.Decimal) error {
	result := tx.Model(&Product{}).
		Where("business_id = ? AND id = ?", businessId, productId).
		Update("stock_qty", gorm.Expr("stock_qty + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
