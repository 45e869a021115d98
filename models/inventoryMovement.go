package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryMovement is the append-only stock ledger. Rows are never updated
// or deleted; corrections are compensating rows with the opposite sign.
//
// The uniq_movement index is what makes stock-out at-most-once: a second
// attempt to record the same (reference, direction, product) row fails with
// a duplicate key error and the caller treats it as already done.
type InventoryMovement struct {
	ID              int                   `gorm:"primary_key" json:"id"`
	BusinessId      string                `gorm:"size:64;not null;index;index:uniq_movement,unique" json:"business_id"`
	ReferenceType   MovementReferenceType `gorm:"size:20;not null;index:uniq_movement,unique" json:"reference_type"`
	ReferenceId     int                   `gorm:"not null;index:uniq_movement,unique" json:"reference_id"`
	MovementType    MovementType          `gorm:"size:10;not null;index:uniq_movement,unique" json:"movement_type"`
	ProductId       int                   `gorm:"not null;index;index:uniq_movement,unique" json:"product_id"`
	StockLocationId int                   `gorm:"index" json:"stock_location_id"`
	// Qty is signed: negative for out, positive for in.
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	ReferenceNumber string          `gorm:"size:255" json:"reference_number"`
	QuotationId     int             `gorm:"index" json:"quotation_id"`
	Notes           string          `gorm:"type:text" json:"notes"`
	CreatedBy       string          `gorm:"size:100" json:"created_by"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// 1062 = ER_DUP_ENTRY
func IsDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// GetMovementsByReference returns the ledger rows written for one reference
// document, oldest first.
func GetMovementsByReference(ctx context.Context, businessId string, referenceType MovementReferenceType, referenceId int) ([]*InventoryMovement, error) {
	db := config.GetDB()
	var results []*InventoryMovement
	err := db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MovementExistsTx reports whether a ledger row was already written for the
// given reference, direction and product. Retries check this before
// inserting so a replay does not touch stock levels at all; the uniq_movement
// index still backstops concurrent writers.
func MovementExistsTx(tx *gorm.DB, businessId string, referenceType MovementReferenceType, referenceId int, movementType MovementType, productId int) (bool, error) {
	var count int64
	err := tx.Model(&InventoryMovement{}).
		Where("business_id = ? AND reference_type = ? AND reference_id = ? AND movement_type = ? AND product_id = ?",
			businessId, referenceType, referenceId, movementType, productId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
