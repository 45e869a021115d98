package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reservation is a soft hold against stock created when a readiness list is
// prepared, keyed by the quotation it serves and the product held.
// Dispatching releases the hold; reservations are never deleted so the
// release history stays auditable.
type Reservation struct {
	ID                  int               `gorm:"primary_key" json:"id"`
	BusinessId          string            `gorm:"size:64;not null;index" json:"business_id"`
	QuotationId         int               `gorm:"index" json:"quotation_id"`
	ReadinessListId     int               `gorm:"index;not null" json:"readiness_list_id"`
	ProductId           int               `gorm:"index;not null" json:"product_id"`
	Qty                 decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"qty"`
	ReleasedQty         decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"released_qty"`
	Status              ReservationStatus `gorm:"size:20;not null;default:'active';index" json:"status"`
	ReleasedByChallanId int               `gorm:"index" json:"released_by_challan_id"`
	ReleasedAt          *time.Time        `json:"released_at"`
	CreatedAt           time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReleaseReservationsTx marks the active holds of a readiness list as
// released. Dispatch consumes the physical stock, so the hold must not keep
// counting against availability afterwards.
func ReleaseReservationsTx(tx *gorm.DB, businessId string, readinessListId int, challanId int, releasedAt time.Time) error {
	return tx.Model(&Reservation{}).
		Where("business_id = ? AND readiness_list_id = ? AND status = ?", businessId, readinessListId, ReservationStatusActive).
		Updates(map[string]interface{}{
			"status":                 ReservationStatusReleased,
			"released_qty":           gorm.Expr("qty"),
			"released_by_challan_id": challanId,
			"released_at":            releasedAt,
		}).Error
}

// ReleaseReservationsForProductsTx releases the quotation's active holds on
// the given products. Covers dispatches that bypass a readiness list: the
// quotation may still carry holds from an earlier list and those must not
// survive the stock leaving.
func ReleaseReservationsForProductsTx(tx *gorm.DB, businessId string, quotationId int, productIds []int, challanId int, releasedAt time.Time) error {
	if quotationId == 0 || len(productIds) == 0 {
		return nil
	}
	return tx.Model(&Reservation{}).
		Where("business_id = ? AND quotation_id = ? AND product_id IN ? AND status = ?",
			businessId, quotationId, productIds, ReservationStatusActive).
		Updates(map[string]interface{}{
			"status":                 ReservationStatusReleased,
			"released_qty":           gorm.Expr("qty"),
			"released_by_challan_id": challanId,
			"released_at":            releasedAt,
		}).Error
}

// GetActiveReservedQty sums the unreleased holds for a product.
func GetActiveReservedQty(ctx context.Context, businessId string, productId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var qty decimal.NullDecimal
	err := db.WithContext(ctx).Model(&Reservation{}).
		Where("business_id = ? AND product_id = ? AND status = ?", businessId, productId, ReservationStatusActive).
		Select("SUM(qty - released_qty)").
		Scan(&qty).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !qty.Valid {
		return decimal.Zero, nil
	}
	return qty.Decimal, nil
}
