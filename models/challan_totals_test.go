package models

import (
	"testing"

	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/shopspring/decimal"
)

func TestRecomputeTotalsExcludesLaborFromBoxes(t *testing.T) {
	challan := Challan{
		LineItems: []ChallanLineItem{
			{ProductId: 1, Qty: decimal.NewFromInt(5), Area: decimal.NewFromInt(100), IsLabor: utils.NewFalse()},
			{ProductId: 2, Qty: decimal.NewFromInt(3), Area: decimal.NewFromInt(60), IsLabor: utils.NewFalse()},
			{Name: "Installation", Qty: decimal.NewFromInt(2), IsLabor: utils.NewTrue()},
		},
	}
	challan.RecomputeTotals()

	if challan.TotalItems != 3 {
		t.Fatalf("TotalItems = %d, want 3", challan.TotalItems)
	}
	if !challan.TotalBoxes.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("TotalBoxes = %s, want 8 (labor excluded)", challan.TotalBoxes)
	}
	if !challan.TotalArea.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("TotalArea = %s, want 160", challan.TotalArea)
	}
}

func TestStockLineItemsFiltersLaborAndUnlinkedLines(t *testing.T) {
	challan := Challan{
		LineItems: []ChallanLineItem{
			{ProductId: 1, Qty: decimal.NewFromInt(5), IsLabor: utils.NewFalse()},
			{Name: "Installation", Qty: decimal.NewFromInt(2), IsLabor: utils.NewTrue()},
			{ProductId: 0, Name: "Freight note", Qty: decimal.NewFromInt(1), IsLabor: utils.NewFalse()},
			{ProductId: 2, Qty: decimal.NewFromInt(3), IsLabor: utils.NewFalse()},
		},
	}
	lines := challan.StockLineItems()
	if len(lines) != 2 {
		t.Fatalf("StockLineItems returned %d lines, want 2", len(lines))
	}
	if lines[0].ProductId != 1 || lines[1].ProductId != 2 {
		t.Fatalf("unexpected stock lines: %+v", lines)
	}
}

func TestChallanStatusTerminality(t *testing.T) {
	live := []ChallanStatus{ChallanStatusDraft, ChallanStatusIssued, ChallanStatusDelivered}
	for _, s := range live {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
		if !s.IsValid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	terminal := []ChallanStatus{ChallanStatusClosed, ChallanStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if ChallanStatus("Shipped").IsValid() {
		t.Fatal("unknown status should be invalid")
	}
}

func TestParseSourceType(t *testing.T) {
	for _, valid := range []string{"readiness_list", "quotation", "invoice"} {
		if _, err := ParseSourceType(valid); err != nil {
			t.Fatalf("ParseSourceType(%q) returned error: %v", valid, err)
		}
	}
	if _, err := ParseSourceType("sales_order"); err == nil {
		t.Fatal("ParseSourceType should reject unknown source types")
	}
}
