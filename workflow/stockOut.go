package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StockOutResult reports how many lines actually moved stock versus lines
// that had already been deducted by an earlier attempt.
type StockOutResult struct {
	Deducted int
	Skipped  int
}

// PerformStockOut writes one 'out' ledger row per stock line and decrements
// the on-hand counters, all inside the caller's transaction.
//
// At-most-once: the ledger's unique (business, reference_type, reference_id,
// movement_type, product_id) index makes the insert the deduction's guard. A
// duplicate key error means an earlier attempt already deducted this line,
// so the line is skipped without touching counters again.
func PerformStockOut(ctx context.Context, tx *gorm.DB, challan *models.Challan) (*StockOutResult, error) {
	logger := config.GetLogger()
	result := &StockOutResult{}

	lines := challan.StockLineItems()
	if len(lines) == 0 {
		return result, nil
	}

	tracksLocations, err := models.BusinessTracksLocationsTx(tx, challan.BusinessId)
	if err != nil {
		return nil, err
	}
	var locationId int
	if tracksLocations {
		locationId, err = models.DefaultStockLocationIdTx(tx, challan.BusinessId)
		if err != nil {
			return nil, err
		}
	}

	createdBy := ""
	if userName, ok := userNameFromContext(ctx); ok {
		createdBy = userName
	}

	for _, line := range lines {
		done, err := models.MovementExistsTx(tx, challan.BusinessId,
			models.MovementReferenceTypeChallan, challan.ID, models.MovementTypeOut, line.ProductId)
		if err != nil {
			return nil, err
		}
		if done {
			// already deducted by an earlier attempt
			result.Skipped++
			continue
		}

		movement := models.InventoryMovement{
			BusinessId:      challan.BusinessId,
			ReferenceType:   models.MovementReferenceTypeChallan,
			ReferenceId:     challan.ID,
			MovementType:    models.MovementTypeOut,
			ProductId:       line.ProductId,
			StockLocationId: locationId,
			Qty:             line.Qty.Neg(),
			ReferenceNumber: challan.ChallanNumber,
			QuotationId:     challan.QuotationId,
			CreatedBy:       createdBy,
		}
		if err := tx.Create(&movement).Error; err != nil {
			if models.IsDuplicateKeyError(err) {
				// a concurrent writer got past the pre-check first
				result.Skipped++
				continue
			}
			return nil, err
		}

		if tracksLocations {
			err = models.AdjustStockLevelTx(tx, challan.BusinessId, locationId, line.ProductId, line.Qty.Neg())
		} else {
			err = models.AdjustProductStockTx(tx, challan.BusinessId, line.ProductId, line.Qty.Neg())
		}
		if err != nil {
			return nil, err
		}
		result.Deducted++
	}

	if result.Skipped > 0 {
		logger.WithFields(logrus.Fields{
			"module":     "StockOut",
			"challan_id": challan.ID,
			"deducted":   result.Deducted,
			"skipped":    result.Skipped,
		}).Warn("some lines were already deducted by an earlier attempt")
	}

	return result, nil
}
