package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
)

// FulfillmentStatusSummary is the one-call answer to "where does this order
// stand": the upstream document's dispatch status, its picking state, how its
// challans are distributed across the lifecycle, and what can be done next.
type FulfillmentStatusSummary struct {
	QuotationId    int                         `json:"quotation_id,omitempty"`
	InvoiceId      int                         `json:"invoice_id,omitempty"`
	DocumentStatus string                      `json:"document_status"`
	DispatchStatus models.DispatchStatus       `json:"dispatch_status"`
	ReadinessList  *ReadinessListSummary       `json:"readiness_list"`
	ChallanCounts  []models.ChallanStatusCount `json:"challan_counts"`
	Actions        []string                    `json:"available_actions"`
}

type ReadinessListSummary struct {
	ID         int                    `json:"id"`
	ListNumber string                 `json:"list_number"`
	Status     models.ReadinessStatus `json:"status"`
}

// FulfillmentStatus summarizes fulfillment progress for one quotation or one
// invoice. Exactly one of the two ids must be set.
func FulfillmentStatus(ctx context.Context, quotationId int, invoiceId int) (*FulfillmentStatusSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if (quotationId > 0) == (invoiceId > 0) {
		return nil, utils.NewValidationError("quotation_id", "exactly one of quotation_id or invoice_id is required")
	}

	summary := &FulfillmentStatusSummary{
		QuotationId: quotationId,
		InvoiceId:   invoiceId,
	}

	if quotationId > 0 {
		quotation, err := utils.FetchModel[models.Quotation](ctx, businessId, quotationId)
		if err != nil {
			return nil, err
		}
		summary.DocumentStatus = string(quotation.CurrentStatus)
		summary.DispatchStatus = quotation.DispatchStatus
	} else {
		invoice, err := utils.FetchModel[models.Invoice](ctx, businessId, invoiceId)
		if err != nil {
			return nil, err
		}
		summary.DocumentStatus = string(invoice.CurrentStatus)
		summary.DispatchStatus = invoice.DispatchStatus
	}

	list, err := models.LatestReadinessList(ctx, businessId, quotationId, invoiceId)
	if err != nil {
		return nil, err
	}
	if list != nil {
		summary.ReadinessList = &ReadinessListSummary{
			ID:         list.ID,
			ListNumber: list.ListNumber,
			Status:     list.CurrentStatus,
		}
	}

	counts, err := models.GetChallanStatusCountsFor(ctx, quotationId, invoiceId)
	if err != nil {
		return nil, err
	}
	summary.ChallanCounts = counts
	summary.Actions = availableActions(counts, list)
	return summary, nil
}

// availableActions derives the next moves from the live challans. A
// cancelled challan never blocks creating another one.
func availableActions(counts []models.ChallanStatusCount, list *models.ReadinessList) []string {
	byStatus := make(map[models.ChallanStatus]int64, len(counts))
	var live int64
	for _, c := range counts {
		byStatus[c.Status] = c.Count
		if c.Status != models.ChallanStatusCancelled {
			live += c.Count
		}
	}

	actions := make([]string, 0, 4)
	if live == 0 {
		actions = append(actions, "create_challan")
		if list == nil {
			actions = append(actions, "create_readiness_list")
		} else if list.CurrentStatus == models.ReadinessStatusCreated ||
			list.CurrentStatus == models.ReadinessStatusAssigned ||
			list.CurrentStatus == models.ReadinessStatusPicking {
			actions = append(actions, "mark_readiness_ready")
		}
	}
	if byStatus[models.ChallanStatusDraft] > 0 {
		actions = append(actions, "issue", "update_details", "cancel")
	}
	if byStatus[models.ChallanStatusIssued] > 0 {
		// cancelling an issued challan goes through reverse_issue so the
		// deducted stock is credited back
		actions = append(actions, "mark_delivered", "reverse_issue", "close")
	}
	if byStatus[models.ChallanStatusDelivered] > 0 {
		actions = append(actions, "close")
	}
	return dedupe(actions)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
