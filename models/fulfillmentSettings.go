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

// FulfillmentSettings is a per-business singleton. A missing row means the
// business runs on defaults; ResolveFulfillmentSettings always returns a
// fully-populated value.
type FulfillmentSettings struct {
	ID                            int             `gorm:"primary_key" json:"id"`
	BusinessId                    string          `gorm:"size:64;not null;uniqueIndex" json:"business_id"`
	RequireReadinessForDispatch   *bool           `gorm:"not null;default:true" json:"require_readiness_for_dispatch"`
	RequireReadinessForInvoice    *bool           `gorm:"not null;default:true" json:"require_readiness_for_invoice"`
	AllowPartialDispatch          *bool           `gorm:"not null;default:true" json:"allow_partial_dispatch"`
	HideSenderByDefault           *bool           `gorm:"not null;default:false" json:"hide_sender_by_default"`
	ThirdPartyDeliveryByDefault   *bool           `gorm:"not null;default:false" json:"third_party_delivery_by_default"`
	AutoCreateReadinessOnApproval *bool           `gorm:"not null;default:false" json:"auto_create_readiness_on_approval"`
	DefaultWastagePercent         decimal.Decimal `gorm:"type:decimal(10,4);default:10" json:"default_wastage_percent"`
	DefaultCoveragePerUnit        decimal.Decimal `gorm:"type:decimal(20,4);default:25" json:"default_coverage_per_unit"`
	CreatedAt                     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewFulfillmentSettings struct {
	RequireReadinessForDispatch   *bool            `json:"require_readiness_for_dispatch"`
	RequireReadinessForInvoice    *bool            `json:"require_readiness_for_invoice"`
	AllowPartialDispatch          *bool            `json:"allow_partial_dispatch"`
	HideSenderByDefault           *bool            `json:"hide_sender_by_default"`
	ThirdPartyDeliveryByDefault   *bool            `json:"third_party_delivery_by_default"`
	AutoCreateReadinessOnApproval *bool            `json:"auto_create_readiness_on_approval"`
	DefaultWastagePercent         *decimal.Decimal `json:"default_wastage_percent"`
	DefaultCoveragePerUnit        *decimal.Decimal `json:"default_coverage_per_unit"`
}

// DefaultFulfillmentSettings returns the settings a business runs on before
// it ever saves anything.
func DefaultFulfillmentSettings(businessId string) *FulfillmentSettings {
	return &FulfillmentSettings{
		BusinessId:                    businessId,
		RequireReadinessForDispatch:   utils.NewTrue(),
		RequireReadinessForInvoice:    utils.NewTrue(),
		AllowPartialDispatch:          utils.NewTrue(),
		HideSenderByDefault:           utils.NewFalse(),
		ThirdPartyDeliveryByDefault:   utils.NewFalse(),
		AutoCreateReadinessOnApproval: utils.NewFalse(),
		DefaultWastagePercent:         decimal.NewFromInt(10),
		DefaultCoveragePerUnit:        decimal.NewFromInt(25),
	}
}

// applyDefaults fills nil fields so partial rows read back complete.
func (s *FulfillmentSettings) applyDefaults() {
	defaults := DefaultFulfillmentSettings(s.BusinessId)
	if s.RequireReadinessForDispatch == nil {
		s.RequireReadinessForDispatch = defaults.RequireReadinessForDispatch
	}
	if s.RequireReadinessForInvoice == nil {
		s.RequireReadinessForInvoice = defaults.RequireReadinessForInvoice
	}
	if s.AllowPartialDispatch == nil {
		s.AllowPartialDispatch = defaults.AllowPartialDispatch
	}
	if s.HideSenderByDefault == nil {
		s.HideSenderByDefault = defaults.HideSenderByDefault
	}
	if s.ThirdPartyDeliveryByDefault == nil {
		s.ThirdPartyDeliveryByDefault = defaults.ThirdPartyDeliveryByDefault
	}
	if s.AutoCreateReadinessOnApproval == nil {
		s.AutoCreateReadinessOnApproval = defaults.AutoCreateReadinessOnApproval
	}
	if s.DefaultWastagePercent.IsZero() {
		s.DefaultWastagePercent = defaults.DefaultWastagePercent
	}
	if s.DefaultCoveragePerUnit.IsZero() {
		s.DefaultCoveragePerUnit = defaults.DefaultCoveragePerUnit
	}
}

// ResolveFulfillmentSettings reads the business settings, redis first then
// db, falling back to defaults when no row exists.
func ResolveFulfillmentSettings(ctx context.Context, businessId string) (*FulfillmentSettings, error) {
	if businessId == "" {
		return nil, errors.New("business id is required")
	}

	cached, err := utils.RetrieveRedisForBusiness[FulfillmentSettings](businessId)
	if err == nil && cached != nil {
		return cached, nil
	}

	db := config.GetDB()
	var settings FulfillmentSettings
	err = db.WithContext(ctx).Where("business_id = ?", businessId).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultFulfillmentSettings(businessId), nil
	}
	if err != nil {
		return nil, err
	}
	settings.applyDefaults()

	// caching failure is not fatal
	_ = utils.StoreRedisForBusiness[FulfillmentSettings](&settings, businessId)

	return &settings, nil
}

// UpsertFulfillmentSettings saves partial updates, keeping current values
// for fields the input leaves nil.
func UpsertFulfillmentSettings(ctx context.Context, input *NewFulfillmentSettings) (*FulfillmentSettings, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if input.DefaultWastagePercent != nil && input.DefaultWastagePercent.IsNegative() {
		return nil, utils.NewValidationError("default_wastage_percent", "must not be negative")
	}
	if input.DefaultCoveragePerUnit != nil && !input.DefaultCoveragePerUnit.IsPositive() {
		return nil, utils.NewValidationError("default_coverage_per_unit", "must be positive")
	}

	db := config.GetDB()

	var settings FulfillmentSettings
	err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = *DefaultFulfillmentSettings(businessId)
	} else if err != nil {
		return nil, err
	} else {
		settings.applyDefaults()
	}

	if input.RequireReadinessForDispatch != nil {
		settings.RequireReadinessForDispatch = input.RequireReadinessForDispatch
	}
	if input.RequireReadinessForInvoice != nil {
		settings.RequireReadinessForInvoice = input.RequireReadinessForInvoice
	}
	if input.AllowPartialDispatch != nil {
		settings.AllowPartialDispatch = input.AllowPartialDispatch
	}
	if input.HideSenderByDefault != nil {
		settings.HideSenderByDefault = input.HideSenderByDefault
	}
	if input.ThirdPartyDeliveryByDefault != nil {
		settings.ThirdPartyDeliveryByDefault = input.ThirdPartyDeliveryByDefault
	}
	if input.AutoCreateReadinessOnApproval != nil {
		settings.AutoCreateReadinessOnApproval = input.AutoCreateReadinessOnApproval
	}
	if input.DefaultWastagePercent != nil {
		settings.DefaultWastagePercent = *input.DefaultWastagePercent
	}
	if input.DefaultCoveragePerUnit != nil {
		settings.DefaultCoveragePerUnit = *input.DefaultCoveragePerUnit
	}

	if err := db.WithContext(ctx).Save(&settings).Error; err != nil {
		return nil, err
	}

	// drop the cached copy so the next read sees the new values
	_ = utils.RemoveRedisForBusiness[FulfillmentSettings](businessId)

	return &settings, nil
}
