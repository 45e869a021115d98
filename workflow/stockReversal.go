package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"gorm.io/gorm"
)

// PerformReversal compensates a challan's stock-out with 'in' ledger rows
// and matching counter increments, inside the caller's transaction.
//
// The original 'out' rows are never updated or deleted; the reversal is a
// second set of rows under DC_REVERSAL so the ledger reads as history. The
// same unique index makes the reversal itself at-most-once, so cancelling
// twice cannot double-credit stock.
func PerformReversal(ctx context.Context, tx *gorm.DB, challan *models.Challan, reason string) error {
	outRows := make([]*models.InventoryMovement, 0)
	err := tx.
		Where("business_id = ? AND reference_type = ? AND reference_id = ? AND movement_type = ?",
			challan.BusinessId, models.MovementReferenceTypeChallan, challan.ID, models.MovementTypeOut).
		Find(&outRows).Error
	if err != nil {
		return err
	}
	if len(outRows) == 0 {
		// nothing was ever deducted, e.g. cancelled straight from Draft
		return nil
	}

	createdBy := ""
	if userName, ok := userNameFromContext(ctx); ok {
		createdBy = userName
	}

	for _, out := range outRows {
		reversal := models.InventoryMovement{
			BusinessId:      challan.BusinessId,
			ReferenceType:   models.MovementReferenceTypeChallanReversal,
			ReferenceId:     challan.ID,
			MovementType:    models.MovementTypeIn,
			ProductId:       out.ProductId,
			StockLocationId: out.StockLocationId,
			Qty:             out.Qty.Neg(),
			ReferenceNumber: challan.ChallanNumber,
			QuotationId:     challan.QuotationId,
			Notes:           reason,
			CreatedBy:       createdBy,
		}
		if err := tx.Create(&reversal).Error; err != nil {
			if models.IsDuplicateKeyError(err) {
				// this line was already reversed
				continue
			}
			return err
		}

		// credit the same counter the deduction hit
		if out.StockLocationId > 0 {
			err = models.AdjustStockLevelTx(tx, challan.BusinessId, out.StockLocationId, out.ProductId, out.Qty.Neg())
		} else {
			err = models.AdjustProductStockTx(tx, challan.BusinessId, out.ProductId, out.Qty.Neg())
		}
		if err != nil {
			return err
		}
	}

	return nil
}
