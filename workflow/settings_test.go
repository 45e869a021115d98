package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
)

func TestRequiresReadinessPerSourceType(t *testing.T) {
	tests := []struct {
		name        string
		dispatch    *bool
		invoice     *bool
		sourceType  models.SourceType
		quotationId int
		want        bool
	}{
		{"quotation gated", utils.NewTrue(), utils.NewFalse(), models.SourceTypeQuotation, 7, true},
		{"quotation open", utils.NewFalse(), utils.NewTrue(), models.SourceTypeQuotation, 7, false},
		{"invoice gated via its quotation", utils.NewFalse(), utils.NewTrue(), models.SourceTypeInvoice, 7, true},
		{"invoice open", utils.NewTrue(), utils.NewFalse(), models.SourceTypeInvoice, 7, false},
		{"standalone invoice has no list to wait on", utils.NewTrue(), utils.NewTrue(), models.SourceTypeInvoice, 0, false},
		{"readiness list always re-checks", utils.NewFalse(), utils.NewFalse(), models.SourceTypeReadinessList, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &models.FulfillmentSettings{
				RequireReadinessForDispatch: tt.dispatch,
				RequireReadinessForInvoice:  tt.invoice,
			}
			if got := requiresReadiness(settings, tt.sourceType, tt.quotationId); got != tt.want {
				t.Errorf("requiresReadiness(%s) = %v, want %v", tt.sourceType, got, tt.want)
			}
		})
	}
}

func TestAvailableActionsFollowTheLifecycle(t *testing.T) {
	contains := func(actions []string, want string) bool {
		for _, a := range actions {
			if a == want {
				return true
			}
		}
		return false
	}

	// nothing dispatched yet, no picking list
	actions := availableActions(nil, nil)
	if !contains(actions, "create_challan") || !contains(actions, "create_readiness_list") {
		t.Errorf("fresh order actions = %v, want create_challan and create_readiness_list", actions)
	}

	// open picking list waiting to be marked ready
	list := &models.ReadinessList{CurrentStatus: models.ReadinessStatusPicking}
	actions = availableActions(nil, list)
	if !contains(actions, "mark_readiness_ready") {
		t.Errorf("picking order actions = %v, want mark_readiness_ready", actions)
	}
	if contains(actions, "create_readiness_list") {
		t.Errorf("picking order actions = %v, should not offer another list", actions)
	}

	// a draft challan blocks further creates and offers issue
	counts := []models.ChallanStatusCount{{Status: models.ChallanStatusDraft, Count: 1}}
	actions = availableActions(counts, nil)
	if contains(actions, "create_challan") {
		t.Errorf("draft order actions = %v, should not offer create_challan", actions)
	}
	if !contains(actions, "issue") || !contains(actions, "cancel") {
		t.Errorf("draft order actions = %v, want issue and cancel", actions)
	}

	// issued challan offers delivery, reversal and early close; plain
	// cancel stopped being legal once stock moved
	counts = []models.ChallanStatusCount{{Status: models.ChallanStatusIssued, Count: 1}}
	actions = availableActions(counts, nil)
	if !contains(actions, "mark_delivered") || !contains(actions, "reverse_issue") || !contains(actions, "close") {
		t.Errorf("issued order actions = %v, want mark_delivered, reverse_issue and close", actions)
	}
	if contains(actions, "cancel") {
		t.Errorf("issued order actions = %v, cancel must not be offered after stock moved", actions)
	}

	// cancelled challans never block starting over
	counts = []models.ChallanStatusCount{{Status: models.ChallanStatusCancelled, Count: 3}}
	actions = availableActions(counts, nil)
	if !contains(actions, "create_challan") {
		t.Errorf("cancelled-only order actions = %v, want create_challan", actions)
	}

	// no duplicate actions when both draft and issued exist
	counts = []models.ChallanStatusCount{
		{Status: models.ChallanStatusDraft, Count: 1},
		{Status: models.ChallanStatusIssued, Count: 1},
	}
	actions = availableActions(counts, nil)
	seen := map[string]int{}
	for _, a := range actions {
		seen[a]++
	}
	if seen["cancel"] != 1 {
		t.Errorf("cancel appears %d times in %v, want once", seen["cancel"], actions)
	}
}
