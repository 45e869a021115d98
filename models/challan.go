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

// Challan is the dispatch record: one trip, one vehicle, one set of goods
// leaving stock. Customer and transport fields are snapshots taken at
// creation so later edits to the source documents never rewrite history.
type Challan struct {
	ID              int        `gorm:"primary_key" json:"id"`
	BusinessId      string     `gorm:"size:64;not null;index" json:"business_id"`
	ChallanNumber   string     `gorm:"size:255;not null;index" json:"challan_number"`
	SourceType      SourceType `gorm:"size:20;not null" json:"source_type"`
	SourceId        int        `gorm:"not null;index" json:"source_id"`
	QuotationId     int        `gorm:"index" json:"quotation_id"`
	InvoiceId       int        `gorm:"index" json:"invoice_id"`
	ReadinessListId int        `gorm:"index" json:"readiness_list_id"`
	ChallanType     ChallanType `gorm:"size:20;not null;default:'delivery';index" json:"challan_type"`
	ChallanDate     time.Time   `gorm:"not null" json:"challan_date"`

	CurrentStatus ChallanStatus `gorm:"type:enum('Draft','Issued','Delivered','Closed','Cancelled');not null;default:'Draft';index" json:"current_status"`

	// Bill-to / ship-to snapshots
	BillToName     string `gorm:"size:255" json:"bill_to_name"`
	BillToPhone    string `gorm:"size:20" json:"bill_to_phone"`
	BillToAddress  string `gorm:"type:text" json:"bill_to_address"`
	ShipToName     string `gorm:"size:255" json:"ship_to_name"`
	ShipToPhone    string `gorm:"size:20" json:"ship_to_phone"`
	ShipToAddress  string `gorm:"type:text" json:"ship_to_address"`

	// Transport
	TransporterName    string `gorm:"size:255" json:"transporter_name"`
	VehicleNo          string `gorm:"size:50" json:"vehicle_no"`
	DriverName         string `gorm:"size:255" json:"driver_name"`
	DriverPhone        string `gorm:"size:20" json:"driver_phone"`
	LrNo               string `gorm:"size:100" json:"lr_no"`
	ThirdPartyDelivery *bool  `gorm:"not null;default:false" json:"third_party_delivery"`
	HideSenderOnPdf    *bool  `gorm:"not null;default:false" json:"hide_sender_on_pdf"`

	// Totals, recomputed whenever line items change
	TotalItems int             `gorm:"default:0" json:"total_items"`
	TotalBoxes decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_boxes"`
	TotalArea  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_area"`

	Notes string `gorm:"type:text" json:"notes"`

	// Lifecycle timestamps
	IssuedAt    *time.Time `json:"issued_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`

	// Proof of delivery
	ReceiverName       string             `gorm:"size:255" json:"receiver_name"`
	ReceiverPhone      string             `gorm:"size:20" json:"receiver_phone"`
	DeliveryPhotoUrl   string             `gorm:"size:500" json:"delivery_photo_url"`
	SignedReceiptUrl   string             `gorm:"size:500" json:"signed_receipt_url"`
	DeliveredCondition DeliveredCondition `gorm:"size:20" json:"delivered_condition"`

	CreatedBy string    `gorm:"size:100" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	LineItems     []ChallanLineItem    `gorm:"foreignKey:ChallanId" json:"line_items"`
	StatusHistory []ChallanStatusEvent `gorm:"foreignKey:ChallanId" json:"status_history"`
}

type ChallanLineItem struct {
	ID        int    `gorm:"primary_key" json:"id"`
	ChallanId int    `gorm:"index;not null" json:"challan_id"`
	ProductId int    `json:"product_id"`
	Name      string `gorm:"size:255" json:"name"`
	Unit      string `gorm:"size:50" json:"unit"`
	// Qty is the discrete unit count that leaves stock.
	Qty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	// Area, wastage and coverage record how Qty was derived from an
	// area-based source line; zero for lines taken as-is.
	Area            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"area"`
	WastagePercent  decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"wastage_percent"`
	CoveragePerUnit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"coverage_per_unit"`
	IsLabor         *bool           `gorm:"not null;default:false" json:"is_labor"`
	Notes           string          `gorm:"size:255" json:"notes"`
}

// ChallanStatusEvent is one row of the append-only status history.
type ChallanStatusEvent struct {
	ID        int           `gorm:"primary_key" json:"id"`
	ChallanId int           `gorm:"index;not null" json:"challan_id"`
	Status    ChallanStatus `gorm:"size:20;not null" json:"status"`
	ChangedBy string        `gorm:"size:100" json:"changed_by"`
	UserName  string        `gorm:"size:255" json:"user_name"`
	Notes     string        `gorm:"type:text" json:"notes"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

type NewChallan struct {
	SourceType  string    `json:"source_type" binding:"required"`
	SourceId    int       `json:"source_id" binding:"required"`
	ChallanType string    `json:"challan_type"`
	ChallanDate time.Time `json:"challan_date"`

	// Optional overrides; blank fields fall back to the source snapshot.
	BillToName    string `json:"bill_to_name"`
	BillToPhone   string `json:"bill_to_phone"`
	BillToAddress string `json:"bill_to_address"`
	ShipToName    string `json:"ship_to_name"`
	ShipToPhone   string `json:"ship_to_phone"`
	ShipToAddress string `json:"ship_to_address"`

	TransporterName    string `json:"transporter_name"`
	VehicleNo          string `json:"vehicle_no"`
	DriverName         string `json:"driver_name"`
	DriverPhone        string `json:"driver_phone"`
	LrNo               string `json:"lr_no"`
	ThirdPartyDelivery *bool  `json:"third_party_delivery"`
	HideSenderOnPdf    *bool  `json:"hide_sender_on_pdf"`

	Notes string `json:"notes"`

	// Optional partial-dispatch override: when set, these lines replace the
	// resolved source lines entirely.
	LineItemOverrides []NewChallanLineItem `json:"items"`

	// Optional manual lines appended after the resolved source lines.
	ExtraLineItems []NewChallanLineItem `json:"extra_line_items"`
}

type NewChallanLineItem struct {
	ProductId int             `json:"product_id"`
	Name      string          `json:"name" binding:"required"`
	Unit      string          `json:"unit"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	Notes     string          `json:"notes"`
}

// UpdateChallanDetails carries the Draft-only editable fields.
type UpdateChallanDetails struct {
	ChallanDate *time.Time `json:"challan_date"`

	BillToName    *string `json:"bill_to_name"`
	BillToPhone   *string `json:"bill_to_phone"`
	BillToAddress *string `json:"bill_to_address"`
	ShipToName    *string `json:"ship_to_name"`
	ShipToPhone   *string `json:"ship_to_phone"`
	ShipToAddress *string `json:"ship_to_address"`

	TransporterName    *string `json:"transporter_name"`
	VehicleNo          *string `json:"vehicle_no"`
	DriverName         *string `json:"driver_name"`
	DriverPhone        *string `json:"driver_phone"`
	LrNo               *string `json:"lr_no"`
	ThirdPartyDelivery *bool   `json:"third_party_delivery"`
	HideSenderOnPdf    *bool   `json:"hide_sender_on_pdf"`

	Notes *string `json:"notes"`
}

func (input *NewChallan) Validate(ctx context.Context, businessId string) error {
	if _, err := ParseSourceType(input.SourceType); err != nil {
		return utils.NewValidationError("source_type", "must be readiness_list, quotation or invoice")
	}
	if input.SourceId <= 0 {
		return utils.NewValidationError("source_id", "is required")
	}
	if input.ChallanType != "" && !ChallanType(input.ChallanType).IsValid() {
		return utils.NewValidationError("challan_type", "must be delivery, returnable or sample")
	}
	if input.DriverPhone != "" {
		if err := utils.ValidatePhoneNumber(input.DriverPhone, utils.CountryCode); err != nil {
			return utils.NewValidationError("driver_phone", "is not a valid phone number")
		}
	}
	for _, item := range input.LineItemOverrides {
		if !item.Qty.IsPositive() {
			return utils.NewValidationError("items", "qty must be positive")
		}
		if item.ProductId > 0 {
			if err := utils.ValidateResourceId[Product](ctx, businessId, item.ProductId); err != nil {
				return errors.New("product not found")
			}
		}
	}
	for _, item := range input.ExtraLineItems {
		if !item.Qty.IsPositive() {
			return utils.NewValidationError("extra_line_items", "qty must be positive")
		}
		if item.ProductId > 0 {
			if err := utils.ValidateResourceId[Product](ctx, businessId, item.ProductId); err != nil {
				return errors.New("product not found")
			}
		}
	}
	return nil
}

func GetChallan(ctx context.Context, id int) (*Challan, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Challan](ctx, businessId, id, "LineItems", "StatusHistory")
}

type ChallanFilter struct {
	Status          *ChallanStatus
	Type            *ChallanType
	SourceType      *SourceType
	SourceId        *int
	QuotationId     *int
	InvoiceId       *int
	ReadinessListId *int
	FromDate        *time.Time
	ToDate          *time.Time
	Search          *string
	Limit           int
	Offset          int
}

type ChallanStatusCount struct {
	Status ChallanStatus `json:"status"`
	Count  int64         `json:"count"`
}

func GetChallansAll(ctx context.Context, filter ChallanFilter) ([]*Challan, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if filter.Status != nil {
		dbCtx = dbCtx.Where("current_status = ?", *filter.Status)
	}
	if filter.Type != nil {
		dbCtx = dbCtx.Where("challan_type = ?", *filter.Type)
	}
	if filter.SourceType != nil {
		dbCtx = dbCtx.Where("source_type = ?", *filter.SourceType)
	}
	if filter.SourceId != nil {
		dbCtx = dbCtx.Where("source_id = ?", *filter.SourceId)
	}
	if filter.QuotationId != nil {
		dbCtx = dbCtx.Where("quotation_id = ?", *filter.QuotationId)
	}
	if filter.InvoiceId != nil {
		dbCtx = dbCtx.Where("invoice_id = ?", *filter.InvoiceId)
	}
	if filter.ReadinessListId != nil {
		dbCtx = dbCtx.Where("readiness_list_id = ?", *filter.ReadinessListId)
	}
	if filter.FromDate != nil {
		dbCtx = dbCtx.Where("challan_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		dbCtx = dbCtx.Where("challan_date <= ?", *filter.ToDate)
	}
	if filter.Search != nil && len(*filter.Search) > 0 {
		search := "%" + *filter.Search + "%"
		dbCtx = dbCtx.Where("challan_number LIKE ? OR ship_to_name LIKE ? OR bill_to_name LIKE ?", search, search, search)
	}

	limit := filter.Limit
	if limit <= 0 || limit > config.SearchLimit {
		limit = config.SearchLimit
	}

	var results []*Challan
	err := dbCtx.Preload("LineItems").
		Order("challan_date DESC, id DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetChallanStatusCounts returns per-status counts for the list header.
func GetChallanStatusCounts(ctx context.Context) ([]ChallanStatusCount, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var counts []ChallanStatusCount
	err := db.WithContext(ctx).Model(&Challan{}).
		Select("current_status AS status, COUNT(*) AS count").
		Where("business_id = ?", businessId).
		Group("current_status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// GetChallanStatusCountsFor returns per-status counts restricted to the
// challans of one upstream document.
func GetChallanStatusCountsFor(ctx context.Context, quotationId int, invoiceId int) ([]ChallanStatusCount, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Challan{}).
		Select("current_status AS status, COUNT(*) AS count").
		Where("business_id = ?", businessId)
	if quotationId > 0 {
		dbCtx = dbCtx.Where("quotation_id = ?", quotationId)
	}
	if invoiceId > 0 {
		dbCtx = dbCtx.Where("invoice_id = ?", invoiceId)
	}

	var counts []ChallanStatusCount
	if err := dbCtx.Group("current_status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

// AppendStatusEventTx records one status history row.
func AppendStatusEventTx(tx *gorm.DB, challanId int, status ChallanStatus, changedBy string, userName string, notes string) error {
	event := ChallanStatusEvent{
		ChallanId: challanId,
		Status:    status,
		ChangedBy: changedBy,
		UserName:  userName,
		Notes:     notes,
	}
	return tx.Create(&event).Error
}

// CasChallanStatusTx flips current_status only when the row still holds the
// expected status. Returns false when another request won the race; the
// caller decides whether that is a skip or a conflict.
func CasChallanStatusTx(tx *gorm.DB, businessId string, challanId int, from ChallanStatus, to ChallanStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"current_status": to}
	for k, v := range extra {
		updates[k] = v
	}
	result := tx.Model(&Challan{}).
		Where("business_id = ? AND id = ? AND current_status = ?", businessId, challanId, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RecomputeTotals refreshes the denormalized counters from the line items.
func (c *Challan) RecomputeTotals() {
	c.TotalItems = 0
	c.TotalBoxes = decimal.Zero
	c.TotalArea = decimal.Zero
	for _, item := range c.LineItems {
		c.TotalItems++
		if !utils.DereferencePtr(item.IsLabor) {
			c.TotalBoxes = c.TotalBoxes.Add(item.Qty)
		}
		c.TotalArea = c.TotalArea.Add(item.Area)
	}
}

// StockLineItems returns the lines that move inventory (labor excluded).
func (c *Challan) StockLineItems() []ChallanLineItem {
	lines := make([]ChallanLineItem, 0, len(c.LineItems))
	for _, item := range c.LineItems {
		if item.ProductId == 0 || utils.DereferencePtr(item.IsLabor) {
			continue
		}
		lines = append(lines, item)
	}
	return lines
}
