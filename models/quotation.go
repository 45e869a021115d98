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

type Quotation struct {
	ID              int               `gorm:"primary_key" json:"id"`
	BusinessId      string            `gorm:"index;not null" json:"business_id"`
	QuotationNumber string            `gorm:"size:255;not null" json:"quotation_number"`
	CustomerName    string            `gorm:"size:255" json:"customer_name"`
	CustomerPhone   string            `gorm:"size:20" json:"customer_phone"`
	CustomerAddress string            `gorm:"type:text" json:"customer_address"`
	QuotationDate   time.Time         `gorm:"not null" json:"quotation_date"`
	CurrentStatus   QuotationStatus   `gorm:"type:enum('Draft','Sent','Approved','Declined','Expired');not null;default:'Draft'" json:"current_status"`
	DispatchStatus  DispatchStatus    `gorm:"size:20;not null;default:'NOT_DISPATCHED';index" json:"dispatch_status"`
	Notes           string            `gorm:"type:text" json:"notes"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	Details         []QuotationDetail `gorm:"foreignKey:QuotationId" json:"details"`
}

type QuotationDetail struct {
	ID          int    `gorm:"primary_key" json:"id"`
	QuotationId int    `gorm:"index;not null" json:"quotation_id"`
	ProductId   int    `json:"product_id"`
	Name        string `gorm:"size:255" json:"name" binding:"required"`
	// Area is the measured coverage the customer ordered, e.g. sqft.
	// Dispatch converts it to discrete units.
	Area           decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"area"`
	Qty            decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"qty"`
	WastagePercent *decimal.Decimal `gorm:"type:decimal(10,4)" json:"wastage_percent"`
	UnitRate       decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"unit_rate"`
	IsLabor        *bool            `gorm:"not null;default:false" json:"is_labor"`
}

type NewQuotation struct {
	CustomerName    string               `json:"customer_name"`
	CustomerPhone   string               `json:"customer_phone"`
	CustomerAddress string               `json:"customer_address"`
	QuotationDate   time.Time            `json:"quotation_date" binding:"required"`
	QuotationNumber string               `json:"quotation_number" binding:"required"`
	Notes           string               `json:"notes"`
	Details         []NewQuotationDetail `json:"details" binding:"required"`
}

type NewQuotationDetail struct {
	ProductId      int              `json:"product_id"`
	Name           string           `json:"name" binding:"required"`
	Area           decimal.Decimal  `json:"area"`
	Qty            decimal.Decimal  `json:"qty"`
	WastagePercent *decimal.Decimal `json:"wastage_percent"`
	UnitRate       decimal.Decimal  `json:"unit_rate"`
	IsLabor        *bool            `json:"is_labor"`
}

func (input *NewQuotation) validate(ctx context.Context, businessId string, id int) error {
	if err := utils.ValidateUnique[Quotation](ctx, businessId, "quotation_number", input.QuotationNumber, id); err != nil {
		return err
	}
	for _, detail := range input.Details {
		if detail.ProductId > 0 {
			if err := utils.ValidateResourceId[Product](ctx, businessId, detail.ProductId); err != nil {
				return errors.New("product not found")
			}
		}
	}
	return nil
}

func CreateQuotation(ctx context.Context, input *NewQuotation) (*Quotation, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	details := make([]QuotationDetail, 0, len(input.Details))
	for _, d := range input.Details {
		isLabor := d.IsLabor
		if isLabor == nil {
			isLabor = utils.NewFalse()
		}
		details = append(details, QuotationDetail{
			ProductId:      d.ProductId,
			Name:           d.Name,
			Area:           d.Area,
			Qty:            d.Qty,
			WastagePercent: d.WastagePercent,
			UnitRate:       d.UnitRate,
			IsLabor:        isLabor,
		})
	}

	quotation := Quotation{
		BusinessId:      businessId,
		QuotationNumber: input.QuotationNumber,
		CustomerName:    input.CustomerName,
		CustomerPhone:   input.CustomerPhone,
		CustomerAddress: input.CustomerAddress,
		QuotationDate:   input.QuotationDate,
		CurrentStatus:   QuotationStatusDraft,
		DispatchStatus:  DispatchStatusNotDispatched,
		Notes:           input.Notes,
		Details:         details,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&quotation).Error
	if err != nil {
		return nil, err
	}
	return &quotation, nil
}

func GetQuotation(ctx context.Context, id int) (*Quotation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Quotation](ctx, businessId, id, "Details")
}

// UpdateQuotationStatus moves the quotation's own lifecycle (not the
// dispatch mirror).
func UpdateQuotationStatus(ctx context.Context, id int, status QuotationStatus) (*Quotation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	quotation, err := utils.FetchModel[Quotation](ctx, businessId, id, "Details")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&quotation).
		Update("current_status", status).Error; err != nil {
		return nil, err
	}
	quotation.CurrentStatus = status
	return quotation, nil
}

// SetQuotationDispatchStatusTx mirrors challan lifecycle changes onto the
// upstream quotation inside the same transaction.
func SetQuotationDispatchStatusTx(tx *gorm.DB, businessId string, quotationId int, status DispatchStatus) error {
	return tx.Model(&Quotation{}).
		Where("business_id = ? AND id = ?", businessId, quotationId).
		Update("dispatch_status", status).Error
}
