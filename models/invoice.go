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

type Invoice struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	InvoiceNumber   string          `gorm:"size:255;not null" json:"invoice_number"`
	QuotationId     int             `gorm:"index" json:"quotation_id"`
	CustomerName    string          `gorm:"size:255" json:"customer_name"`
	CustomerPhone   string          `gorm:"size:20" json:"customer_phone"`
	CustomerAddress string          `gorm:"type:text" json:"customer_address"`
	InvoiceDate     time.Time       `gorm:"not null" json:"invoice_date"`
	CurrentStatus   InvoiceStatus   `gorm:"type:enum('Draft','Confirmed','Paid','Void');not null;default:'Draft'" json:"current_status"`
	DispatchStatus  DispatchStatus  `gorm:"size:20;not null;default:'NOT_DISPATCHED';index" json:"dispatch_status"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Details         []InvoiceDetail `gorm:"foreignKey:InvoiceId" json:"details"`
}

type InvoiceDetail struct {
	ID        int             `gorm:"primary_key" json:"id"`
	InvoiceId int             `gorm:"index;not null" json:"invoice_id"`
	ProductId int             `json:"product_id"`
	Name      string          `gorm:"size:255" json:"name" binding:"required"`
	// Area is carried when the line was sold by measurement; dispatch
	// derives discrete units from it the same way quotations do.
	Area           decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"area"`
	Qty            decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"qty"`
	UnitRate       decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"unit_rate"`
	WastagePercent *decimal.Decimal `gorm:"type:decimal(10,4)" json:"wastage_percent"`
	IsLabor        *bool            `gorm:"not null;default:false" json:"is_labor"`
}

type NewInvoice struct {
	InvoiceNumber   string             `json:"invoice_number" binding:"required"`
	QuotationId     int                `json:"quotation_id"`
	CustomerName    string             `json:"customer_name"`
	CustomerPhone   string             `json:"customer_phone"`
	CustomerAddress string             `json:"customer_address"`
	InvoiceDate     time.Time          `json:"invoice_date" binding:"required"`
	Details         []NewInvoiceDetail `json:"details" binding:"required"`
}

type NewInvoiceDetail struct {
	ProductId      int              `json:"product_id"`
	Name           string           `json:"name" binding:"required"`
	Area           decimal.Decimal  `json:"area"`
	Qty            decimal.Decimal  `json:"qty"`
	UnitRate       decimal.Decimal  `json:"unit_rate"`
	WastagePercent *decimal.Decimal `json:"wastage_percent"`
	IsLabor        *bool            `json:"is_labor"`
}

func (input *NewInvoice) validate(ctx context.Context, businessId string, id int) error {
	if err := utils.ValidateUnique[Invoice](ctx, businessId, "invoice_number", input.InvoiceNumber, id); err != nil {
		return err
	}
	if input.QuotationId > 0 {
		if err := utils.ValidateResourceId[Quotation](ctx, businessId, input.QuotationId); err != nil {
			return errors.New("quotation not found")
		}
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

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	details := make([]InvoiceDetail, 0, len(input.Details))
	for _, d := range input.Details {
		isLabor := d.IsLabor
		if isLabor == nil {
			isLabor = utils.NewFalse()
		}
		details = append(details, InvoiceDetail{
			ProductId:      d.ProductId,
			Name:           d.Name,
			Area:           d.Area,
			Qty:            d.Qty,
			UnitRate:       d.UnitRate,
			WastagePercent: d.WastagePercent,
			IsLabor:        isLabor,
		})
	}

	invoice := Invoice{
		BusinessId:      businessId,
		InvoiceNumber:   input.InvoiceNumber,
		QuotationId:     input.QuotationId,
		CustomerName:    input.CustomerName,
		CustomerPhone:   input.CustomerPhone,
		CustomerAddress: input.CustomerAddress,
		InvoiceDate:     input.InvoiceDate,
		CurrentStatus:   InvoiceStatusDraft,
		DispatchStatus:  DispatchStatusNotDispatched,
		Details:         details,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Invoice](ctx, businessId, id, "Details")
}

// UpdateInvoiceStatus moves the invoice's own lifecycle (not the dispatch
// mirror).
func UpdateInvoiceStatus(ctx context.Context, id int, status InvoiceStatus) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	invoice, err := utils.FetchModel[Invoice](ctx, businessId, id, "Details")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&invoice).
		Update("current_status", status).Error; err != nil {
		return nil, err
	}
	invoice.CurrentStatus = status
	return invoice, nil
}

// SetInvoiceDispatchStatusTx mirrors challan lifecycle changes onto the
// upstream invoice inside the same transaction.
func SetInvoiceDispatchStatusTx(tx *gorm.DB, businessId string, invoiceId int, status DispatchStatus) error {
	return tx.Model(&Invoice{}).
		Where("business_id = ? AND id = ?", businessId, invoiceId).
		Update("dispatch_status", status).Error
}
