package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultFulfillmentSettings(t *testing.T) {
	s := DefaultFulfillmentSettings("biz-1")

	if s.BusinessId != "biz-1" {
		t.Fatalf("business id = %q, want biz-1", s.BusinessId)
	}
	if s.RequireReadinessForDispatch == nil || !*s.RequireReadinessForDispatch {
		t.Error("require_readiness_for_dispatch should default to true")
	}
	if s.RequireReadinessForInvoice == nil || !*s.RequireReadinessForInvoice {
		t.Error("require_readiness_for_invoice should default to true")
	}
	if s.AllowPartialDispatch == nil || !*s.AllowPartialDispatch {
		t.Error("allow_partial_dispatch should default to true")
	}
	if s.HideSenderByDefault == nil || *s.HideSenderByDefault {
		t.Error("hide_sender_by_default should default to false")
	}
	if s.ThirdPartyDeliveryByDefault == nil || *s.ThirdPartyDeliveryByDefault {
		t.Error("third_party_delivery_by_default should default to false")
	}
	if !s.DefaultWastagePercent.Equal(decimal.NewFromInt(10)) {
		t.Errorf("default wastage = %s, want 10", s.DefaultWastagePercent)
	}
	if !s.DefaultCoveragePerUnit.Equal(decimal.NewFromInt(25)) {
		t.Errorf("default coverage = %s, want 25", s.DefaultCoveragePerUnit)
	}
}

func TestApplyDefaultsFillsOnlyMissingFields(t *testing.T) {
	no := false
	coverage := decimal.NewFromInt(32)
	s := FulfillmentSettings{
		BusinessId:                  "biz-2",
		RequireReadinessForDispatch: &no,
		DefaultCoveragePerUnit:      coverage,
	}

	s.applyDefaults()

	// explicit values survive
	if *s.RequireReadinessForDispatch {
		t.Error("explicit require_readiness_for_dispatch=false was overwritten")
	}
	if !s.DefaultCoveragePerUnit.Equal(coverage) {
		t.Errorf("explicit coverage = %s, want 32", s.DefaultCoveragePerUnit)
	}

	// nil and zero fields read back as defaults
	if s.RequireReadinessForInvoice == nil || !*s.RequireReadinessForInvoice {
		t.Error("nil require_readiness_for_invoice should fill to true")
	}
	if s.AllowPartialDispatch == nil || !*s.AllowPartialDispatch {
		t.Error("nil allow_partial_dispatch should fill to true")
	}
	if s.AutoCreateReadinessOnApproval == nil || *s.AutoCreateReadinessOnApproval {
		t.Error("nil auto_create_readiness_on_approval should fill to false")
	}
	if !s.DefaultWastagePercent.Equal(decimal.NewFromInt(10)) {
		t.Errorf("zero wastage = %s, want default 10", s.DefaultWastagePercent)
	}
}
