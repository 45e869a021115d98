package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ChallanNumberSeries is a per-business monthly counter backing challan
// number assignment. One row per (business, year, month).
type ChallanNumberSeries struct {
	ID           int       `gorm:"primary_key" json:"id"`
	BusinessId   string    `gorm:"size:64;not null;index:uniq_challan_series,unique" json:"business_id"`
	Year         int       `gorm:"not null;index:uniq_challan_series,unique" json:"year"`
	Month        int       `gorm:"not null;index:uniq_challan_series,unique" json:"month"`
	NextSequence int       `gorm:"not null;default:1" json:"next_sequence"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NextChallanNumberTx claims the next sequence for the month and formats the
// challan number, e.g. DC-202608-0042.
//
// The claim uses LAST_INSERT_ID(expr) so the increment and the read are one
// atomic statement; two concurrent creates can never see the same sequence.
func NextChallanNumberTx(tx *gorm.DB, businessId string, date time.Time) (string, error) {
	year, month := date.Year(), int(date.Month())

	series := ChallanNumberSeries{
		BusinessId:   businessId,
		Year:         year,
		Month:        month,
		NextSequence: 1,
	}
	if err := tx.Create(&series).Error; err != nil && !IsDuplicateKeyError(err) {
		return "", err
	}

	if err := tx.Exec(
		"UPDATE challan_number_series SET next_sequence = LAST_INSERT_ID(next_sequence + 1) WHERE business_id = ? AND year = ? AND month = ?",
		businessId, year, month,
	).Error; err != nil {
		return "", err
	}

	var claimed int64
	if err := tx.Raw("SELECT LAST_INSERT_ID()").Scan(&claimed).Error; err != nil {
		return "", err
	}

	// claimed is next_sequence after increment; the assigned number is one less
	return fmt.Sprintf("DC-%04d%02d-%04d", year, month, claimed-1), nil
}
