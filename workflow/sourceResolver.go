package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/shopspring/decimal"
)

// ResolvedSource is everything a new challan takes from its source document:
// the dispatchable lines, the customer snapshot and the upstream links to
// propagate status to later.
type ResolvedSource struct {
	SourceType      models.SourceType
	SourceId        int
	QuotationId     int
	InvoiceId       int
	ReadinessListId int

	CustomerName    string
	CustomerPhone   string
	CustomerAddress string

	LineItems []models.ChallanLineItem
}

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// DeriveDiscreteQty converts a measured area into whole dispatch units:
//
//	ceil(area * (1 + wastage/100) / coverage)
//
// Wastage and coverage fall back to the business defaults when the line and
// product leave them unset.
func DeriveDiscreteQty(area decimal.Decimal, wastagePercent decimal.Decimal, coveragePerUnit decimal.Decimal) decimal.Decimal {
	if !area.IsPositive() || !coveragePerUnit.IsPositive() {
		return decimal.Zero
	}
	factor := one.Add(wastagePercent.Div(hundred))
	return area.Mul(factor).Div(coveragePerUnit).Ceil()
}

// ResolveSource loads the source document and builds dispatch lines from it.
//
// Rules per source type:
//   - readiness_list: picked quantities are taken as-is; the list must be
//     READY.
//   - quotation: must be Approved. When the business requires readiness, a
//     READY list for the quotation must exist and its picked quantities
//     become the dispatch lines. Otherwise area lines are converted to
//     discrete units; labor lines are carried for the paper but never move
//     stock.
//   - invoice: must be Confirmed or Paid; same discrete-unit derivation as
//     quotations. When the business requires readiness for invoice sources
//     and the invoice is linked to a quotation, that quotation's READY list
//     gates the dispatch and supplies the quantities.
func ResolveSource(ctx context.Context, businessId string, sourceType models.SourceType, sourceId int, settings *models.FulfillmentSettings) (*ResolvedSource, error) {
	switch sourceType {
	case models.SourceTypeReadinessList:
		return resolveFromReadinessList(ctx, businessId, sourceId)
	case models.SourceTypeQuotation:
		return resolveFromQuotation(ctx, businessId, sourceId, settings)
	case models.SourceTypeInvoice:
		return resolveFromInvoice(ctx, businessId, sourceId, settings)
	}
	return nil, errors.New("invalid source type")
}

func resolveFromReadinessList(ctx context.Context, businessId string, sourceId int) (*ResolvedSource, error) {
	list, err := utils.FetchModel[models.ReadinessList](ctx, businessId, sourceId, "Items")
	if err != nil {
		return nil, err
	}
	if list.CurrentStatus != models.ReadinessStatusReady {
		return nil, &utils.DependencyUnreadyError{
			Dependency: "readiness list",
			Status:     string(list.CurrentStatus),
		}
	}

	resolved := &ResolvedSource{
		SourceType:      models.SourceTypeReadinessList,
		SourceId:        sourceId,
		QuotationId:     list.QuotationId,
		InvoiceId:       list.InvoiceId,
		ReadinessListId: list.ID,
	}

	// customer snapshot comes from the upstream document when linked
	if list.QuotationId > 0 {
		quotation, err := utils.FetchModel[models.Quotation](ctx, businessId, list.QuotationId)
		if err == nil {
			resolved.CustomerName = quotation.CustomerName
			resolved.CustomerPhone = quotation.CustomerPhone
			resolved.CustomerAddress = quotation.CustomerAddress
		}
	} else if list.InvoiceId > 0 {
		invoice, err := utils.FetchModel[models.Invoice](ctx, businessId, list.InvoiceId)
		if err == nil {
			resolved.CustomerName = invoice.CustomerName
			resolved.CustomerPhone = invoice.CustomerPhone
			resolved.CustomerAddress = invoice.CustomerAddress
		}
	}

	resolved.LineItems = linesFromListItems(list.Items)
	if len(resolved.LineItems) == 0 {
		return nil, utils.NewValidationError("source_id", "readiness list has nothing to dispatch")
	}
	return resolved, nil
}

// linesFromListItems turns picked (or, absent a pick, requested) quantities
// into dispatch lines.
func linesFromListItems(items []models.ReadinessListItem) []models.ChallanLineItem {
	var lines []models.ChallanLineItem
	for _, item := range items {
		qty := item.PickedQty
		if qty.IsZero() {
			qty = item.RequiredQty
		}
		if !qty.IsPositive() {
			continue
		}
		lines = append(lines, models.ChallanLineItem{
			ProductId: item.ProductId,
			Name:      item.Name,
			Qty:       qty,
			IsLabor:   utils.NewFalse(),
		})
	}
	return lines
}

func resolveFromQuotation(ctx context.Context, businessId string, sourceId int, settings *models.FulfillmentSettings) (*ResolvedSource, error) {
	quotation, err := utils.FetchModel[models.Quotation](ctx, businessId, sourceId, "Details")
	if err != nil {
		return nil, err
	}
	if quotation.CurrentStatus != models.QuotationStatusApproved {
		return nil, &utils.StateConflictError{
			Action:   "dispatch quotation",
			Current:  string(quotation.CurrentStatus),
			Required: string(models.QuotationStatusApproved),
		}
	}

	resolved := &ResolvedSource{
		SourceType:      models.SourceTypeQuotation,
		SourceId:        sourceId,
		QuotationId:     quotation.ID,
		CustomerName:    quotation.CustomerName,
		CustomerPhone:   quotation.CustomerPhone,
		CustomerAddress: quotation.CustomerAddress,
	}

	if utils.DereferencePtr(settings.RequireReadinessForDispatch) {
		// the READY list gates the dispatch and its confirmed quantities
		// are what actually leaves stock
		list, err := requireReadyList(ctx, businessId, "quotation_id", quotation.ID)
		if err != nil {
			return nil, err
		}
		resolved.ReadinessListId = list.ID
		resolved.LineItems = linesFromListItems(list.Items)
		if len(resolved.LineItems) == 0 {
			return nil, utils.NewValidationError("source_id", "readiness list has nothing to dispatch")
		}
		return resolved, nil
	}

	for _, detail := range quotation.Details {
		line, err := buildDispatchLine(ctx, businessId, settings,
			detail.ProductId, detail.Name, detail.IsLabor,
			detail.Area, detail.Qty, detail.WastagePercent)
		if err != nil {
			return nil, err
		}
		if line != nil {
			resolved.LineItems = append(resolved.LineItems, *line)
		}
	}
	if len(resolved.LineItems) == 0 {
		return nil, utils.NewValidationError("source_id", "quotation has nothing to dispatch")
	}
	return resolved, nil
}

func resolveFromInvoice(ctx context.Context, businessId string, sourceId int, settings *models.FulfillmentSettings) (*ResolvedSource, error) {
	invoice, err := utils.FetchModel[models.Invoice](ctx, businessId, sourceId, "Details")
	if err != nil {
		return nil, err
	}
	if invoice.CurrentStatus != models.InvoiceStatusConfirmed && invoice.CurrentStatus != models.InvoiceStatusPaid {
		return nil, &utils.StateConflictError{
			Action:   "dispatch invoice",
			Current:  string(invoice.CurrentStatus),
			Required: "Confirmed or Paid",
		}
	}

	resolved := &ResolvedSource{
		SourceType:      models.SourceTypeInvoice,
		SourceId:        sourceId,
		QuotationId:     invoice.QuotationId,
		InvoiceId:       invoice.ID,
		CustomerName:    invoice.CustomerName,
		CustomerPhone:   invoice.CustomerPhone,
		CustomerAddress: invoice.CustomerAddress,
	}

	// the readiness gate only applies when the invoice traces back to a
	// quotation; the gate is that quotation's list
	if utils.DereferencePtr(settings.RequireReadinessForInvoice) && invoice.QuotationId > 0 {
		list, err := requireReadyList(ctx, businessId, "quotation_id", invoice.QuotationId)
		if err != nil {
			return nil, err
		}
		resolved.ReadinessListId = list.ID
		resolved.LineItems = linesFromListItems(list.Items)
		if len(resolved.LineItems) == 0 {
			return nil, utils.NewValidationError("source_id", "readiness list has nothing to dispatch")
		}
		return resolved, nil
	}

	for _, detail := range invoice.Details {
		line, err := buildDispatchLine(ctx, businessId, settings,
			detail.ProductId, detail.Name, detail.IsLabor,
			detail.Area, detail.Qty, detail.WastagePercent)
		if err != nil {
			return nil, err
		}
		if line != nil {
			resolved.LineItems = append(resolved.LineItems, *line)
		}
	}
	if len(resolved.LineItems) == 0 {
		return nil, utils.NewValidationError("source_id", "invoice has nothing to dispatch")
	}
	return resolved, nil
}

// buildDispatchLine converts one source detail into a dispatch line. Area
// lines get the discrete-unit derivation with snapshots of the factors used;
// labor lines are carried with no stock effect; empty lines return nil.
func buildDispatchLine(ctx context.Context, businessId string, settings *models.FulfillmentSettings,
	productId int, name string, isLabor *bool,
	area decimal.Decimal, qty decimal.Decimal, wastagePercent *decimal.Decimal) (*models.ChallanLineItem, error) {

	line := models.ChallanLineItem{
		ProductId: productId,
		Name:      name,
		IsLabor:   isLabor,
	}
	if utils.DereferencePtr(isLabor) {
		// labor appears on the paper with no stock effect
		line.Qty = qty
		return &line, nil
	}

	if area.IsPositive() {
		wastage := settings.DefaultWastagePercent
		if wastagePercent != nil {
			wastage = *wastagePercent
		}
		coverage := settings.DefaultCoveragePerUnit
		if productId > 0 {
			product, err := utils.FetchModel[models.Product](ctx, businessId, productId)
			if err != nil {
				return nil, err
			}
			if product.CoveragePerUnit.IsPositive() {
				coverage = product.CoveragePerUnit
			}
		}
		line.Area = area
		line.WastagePercent = wastage
		line.CoveragePerUnit = coverage
		line.Qty = DeriveDiscreteQty(area, wastage, coverage)
	} else {
		line.Qty = qty
	}

	if !line.Qty.IsPositive() {
		return nil, nil
	}
	return &line, nil
}

// requireReadyList enforces the readiness gate: some READY list must be
// linked to the upstream quotation. Returns the newest one with its items so
// the challan dispatches the confirmed quantities and releases the list's
// reservations when it issues.
func requireReadyList(ctx context.Context, businessId string, column string, sourceId int) (*models.ReadinessList, error) {
	db := config.GetDB()
	var list models.ReadinessList
	err := db.WithContext(ctx).
		Preload("Items").
		Where("business_id = ? AND "+column+" = ? AND current_status = ?", businessId, sourceId, models.ReadinessStatusReady).
		Order("id DESC").
		Limit(1).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	if list.ID == 0 {
		return nil, &utils.DependencyUnreadyError{
			Dependency: "readiness list",
			Status:     "missing",
			Message:    "dispatch requires a READY readiness list for this source",
		}
	}
	return &list, nil
}
