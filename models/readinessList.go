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

// ReadinessList is the picking document prepared before dispatch. Its items
// carry the picked quantities a challan sourced from it will carry out.
type ReadinessList struct {
	ID             int                 `gorm:"primary_key" json:"id"`
	BusinessId     string              `gorm:"index;not null" json:"business_id"`
	QuotationId    int                 `gorm:"index" json:"quotation_id"`
	InvoiceId      int                 `gorm:"index" json:"invoice_id"`
	ListNumber     string              `gorm:"size:255" json:"list_number"`
	CurrentStatus  ReadinessStatus     `gorm:"size:20;not null;default:'CREATED';index" json:"current_status"`
	AssignedTo     string              `gorm:"size:100" json:"assigned_to"`
	AssignedToName string              `gorm:"size:255" json:"assigned_to_name"`
	ReadyAt        *time.Time          `json:"ready_at"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
	Items          []ReadinessListItem `gorm:"foreignKey:ReadinessListId" json:"items"`
}

type ReadinessListItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ReadinessListId int             `gorm:"index;not null" json:"readiness_list_id"`
	ProductId       int             `json:"product_id"`
	Name            string          `gorm:"size:255" json:"name"`
	RequiredQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"required_qty"`
	PickedQty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"picked_qty"`
}

type NewReadinessList struct {
	QuotationId int                    `json:"quotation_id"`
	InvoiceId   int                    `json:"invoice_id"`
	ListNumber  string                 `json:"list_number"`
	Items       []NewReadinessListItem `json:"items" binding:"required"`
}

type NewReadinessListItem struct {
	ProductId   int             `json:"product_id"`
	Name        string          `json:"name"`
	RequiredQty decimal.Decimal `json:"required_qty"`
	PickedQty   decimal.Decimal `json:"picked_qty"`
}

func (input *NewReadinessList) validate(ctx context.Context, businessId string, _ int) error {
	if input.QuotationId > 0 {
		if err := utils.ValidateResourceId[Quotation](ctx, businessId, input.QuotationId); err != nil {
			return errors.New("quotation not found")
		}
	}
	if input.InvoiceId > 0 {
		if err := utils.ValidateResourceId[Invoice](ctx, businessId, input.InvoiceId); err != nil {
			return errors.New("invoice not found")
		}
	}
	for _, item := range input.Items {
		if item.ProductId > 0 {
			if err := utils.ValidateResourceId[Product](ctx, businessId, item.ProductId); err != nil {
				return errors.New("product not found")
			}
		}
	}
	return nil
}

// CreateReadinessList also places soft holds (reservations) on the required
// quantities so availability reads stay honest before dispatch.
func CreateReadinessList(ctx context.Context, input *NewReadinessList) (*ReadinessList, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	items := make([]ReadinessListItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, ReadinessListItem{
			ProductId:   item.ProductId,
			Name:        item.Name,
			RequiredQty: item.RequiredQty,
			PickedQty:   item.PickedQty,
		})
	}

	list := ReadinessList{
		BusinessId:    businessId,
		QuotationId:   input.QuotationId,
		InvoiceId:     input.InvoiceId,
		ListNumber:    input.ListNumber,
		CurrentStatus: ReadinessStatusCreated,
		Items:         items,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&list).Error; err != nil {
			return err
		}
		for _, item := range list.Items {
			if item.ProductId == 0 || !item.RequiredQty.IsPositive() {
				continue
			}
			reservation := Reservation{
				BusinessId:      businessId,
				QuotationId:     list.QuotationId,
				ReadinessListId: list.ID,
				ProductId:       item.ProductId,
				Qty:             item.RequiredQty,
				Status:          ReservationStatusActive,
			}
			if err := tx.Create(&reservation).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func GetReadinessList(ctx context.Context, id int) (*ReadinessList, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[ReadinessList](ctx, businessId, id, "Items")
}

// UpdateReadinessStatus moves the picking lifecycle forward. READY records
// the timestamp used to gate dispatch.
func UpdateReadinessStatus(ctx context.Context, id int, status ReadinessStatus) (*ReadinessList, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	list, err := utils.FetchModel[ReadinessList](ctx, businessId, id, "Items")
	if err != nil {
		return nil, err
	}
	if list.CurrentStatus == ReadinessStatusClosed || list.CurrentStatus == ReadinessStatusCancelled {
		return nil, &utils.StateConflictError{
			Action:   "update readiness status",
			Current:  string(list.CurrentStatus),
			Required: "an open readiness list",
		}
	}

	updates := map[string]interface{}{"current_status": status}
	if status == ReadinessStatusReady {
		now := time.Now().UTC()
		updates["ready_at"] = &now
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&list).Updates(updates).Error; err != nil {
		return nil, err
	}
	list.CurrentStatus = status
	return list, nil
}

// LatestReadinessList returns the newest picking list attached to the given
// upstream document, or nil when none was created yet.
func LatestReadinessList(ctx context.Context, businessId string, quotationId int, invoiceId int) (*ReadinessList, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if quotationId > 0 {
		dbCtx = dbCtx.Where("quotation_id = ?", quotationId)
	}
	if invoiceId > 0 {
		dbCtx = dbCtx.Where("invoice_id = ?", invoiceId)
	}

	var list ReadinessList
	err := dbCtx.Order("id DESC").First(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// CloseReadinessListTx ends the picking lifecycle once its stock has been
// dispatched.
func CloseReadinessListTx(tx *gorm.DB, businessId string, readinessListId int) error {
	return tx.Model(&ReadinessList{}).
		Where("business_id = ? AND id = ?", businessId, readinessListId).
		Update("current_status", ReadinessStatusClosed).Error
}
