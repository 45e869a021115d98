package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDeriveDiscreteQty(t *testing.T) {
	cases := []struct {
		name     string
		area     string
		wastage  string
		coverage string
		want     string
	}{
		// 100 * 1.10 / 25 = 4.4 -> 5
		{"business defaults round up", "100", "10", "25", "5"},
		// 50 * 1.00 / 25 = 2 exactly, no extra unit
		{"exact multiple stays exact", "50", "0", "25", "2"},
		// 112.5 * 1.10 / 25 = 4.95 -> 5
		{"fraction just under next unit", "112.5", "10", "25", "5"},
		// 113.7 * 1.10 / 25 = 5.0028 -> 6
		{"fraction just over next unit", "113.7", "10", "25", "6"},
		{"tiny area still ships one unit", "0.01", "0", "25", "1"},
		{"higher wastage adds units", "100", "25", "25", "5"},
		{"custom coverage", "100", "10", "30", "4"},
		{"zero area is zero units", "0", "10", "25", "0"},
		{"negative area is zero units", "-5", "10", "25", "0"},
		{"zero coverage is zero units", "100", "10", "0", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveDiscreteQty(dec(tc.area), dec(tc.wastage), dec(tc.coverage))
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("DeriveDiscreteQty(%s, %s, %s) = %s, want %s",
					tc.area, tc.wastage, tc.coverage, got.String(), tc.want)
			}
		})
	}
}

func TestListItemsDriveGatedDispatchQuantities(t *testing.T) {
	items := []models.ReadinessListItem{
		// warehouse confirmed less than requested: the pick wins
		{ProductId: 1, Name: "Oak Plank", RequiredQty: dec("5"), PickedQty: dec("3")},
		// nothing picked yet: fall back to what was requested
		{ProductId: 2, Name: "Underlay", RequiredQty: dec("2")},
		// lines with no quantity at all do not ship
		{ProductId: 3, Name: "Trim"},
	}

	lines := linesFromListItems(items)
	if len(lines) != 2 {
		t.Fatalf("expected 2 dispatch lines, got %d: %+v", len(lines), lines)
	}
	if lines[0].ProductId != 1 || !lines[0].Qty.Equal(dec("3")) {
		t.Fatalf("picked quantity must win over required: %+v", lines[0])
	}
	if lines[1].ProductId != 2 || !lines[1].Qty.Equal(dec("2")) {
		t.Fatalf("unpicked line should fall back to required: %+v", lines[1])
	}
}

func TestDeriveDiscreteQtyNeverUndershoots(t *testing.T) {
	// The derived unit count must always cover the wasted area.
	areas := []string{"1", "12.5", "99.99", "250", "1000.01"}
	for _, a := range areas {
		area := dec(a)
		got := DeriveDiscreteQty(area, dec("10"), dec("25"))
		covered := got.Mul(dec("25"))
		needed := area.Mul(dec("1.1"))
		if covered.LessThan(needed) {
			t.Fatalf("area %s: %s units cover %s, need %s", a, got, covered, needed)
		}
	}
}
