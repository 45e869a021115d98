package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Rebuilds the stock counters (stock_levels.qty and products.stock_qty)
// from the movement ledger. The ledger is the source of truth; counters are
// derived and can drift if a past bug double-applied or skipped a delta.
func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	productID := flag.Int("product-id", 0, "Optional: limit the rebuild to one product")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing products and continue rebuilding others")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	type scope struct {
		ProductId       int
		StockLocationId int
		Total           decimal.Decimal
	}
	var scopes []scope
	q := db.Raw(`
		SELECT product_id, stock_location_id, COALESCE(SUM(qty), 0) AS total
		FROM inventory_movements
		WHERE business_id = ? AND (? = 0 OR product_id = ?)
		GROUP BY product_id, stock_location_id
	`, *businessID, *productID, *productID)
	if err := q.Scan(&scopes).Error; err != nil {
		fmt.Fprintf(os.Stderr, "discover scopes: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, s := range scopes {
		fmt.Printf("Rebuilding business=%s product=%d location=%d total=%s\n",
			*businessID, s.ProductId, s.StockLocationId, s.Total.String())
		err := db.Transaction(func(tx *gorm.DB) error {
			if s.StockLocationId > 0 {
				result := tx.Model(&models.StockLevel{}).
					Where("business_id = ? AND stock_location_id = ? AND product_id = ?",
						*businessID, s.StockLocationId, s.ProductId).
					Update("qty", s.Total)
				if result.Error != nil {
					return result.Error
				}
				if result.RowsAffected == 0 {
					level := models.StockLevel{
						BusinessId:      *businessID,
						StockLocationId: s.StockLocationId,
						ProductId:       s.ProductId,
						Qty:             s.Total,
					}
					return tx.Create(&level).Error
				}
				return nil
			}
			return tx.Model(&models.Product{}).
				Where("business_id = ? AND id = ?", *businessID, s.ProductId).
				Update("stock_qty", s.Total).Error
		})
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "rebuild failed (skipping): %v\n", err)
				failed++
				continue
			}
			fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Done. scopes=%d failed=%d\n", len(scopes), failed)
	if failed > 0 {
		os.Exit(1)
	}
}
