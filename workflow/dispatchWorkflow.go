package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const moduleName = "DispatchWorkflow"

var tracer = otel.Tracer("fulfillment-backend/workflow")

// TransitionCommand is the closed set of lifecycle actions on a challan.
type TransitionCommand interface {
	transitionName() string
}

// UpdateDetails edits Draft-only fields.
type UpdateDetails struct {
	Details models.UpdateChallanDetails
}

// Issue moves Draft to Issued and deducts stock.
type Issue struct {
	Notes string
}

// MarkDelivered records proof of delivery and moves Issued to Delivered.
type MarkDelivered struct {
	ReceiverName     string
	ReceiverPhone    string
	DeliveryPhotoUrl string
	SignedReceiptUrl string
	Condition        models.DeliveredCondition
	Notes            string
}

// Close is administrative closure, allowed from any non-terminal status.
type Close struct {
	Notes string
}

// Cancel aborts a Draft challan. An Issued one must go through ReverseIssue
// so its stock is credited back.
type Cancel struct {
	Reason string
}

// ReverseIssue cancels an Issued challan, crediting the dispatched stock
// back. This is the only way out of Issued besides delivery.
type ReverseIssue struct {
	Reason string
}

// LinkInvoice attaches an invoice created after the challan.
type LinkInvoice struct {
	InvoiceId int
}

func (UpdateDetails) transitionName() string { return "updateDetails" }
func (Issue) transitionName() string         { return "issue" }
func (MarkDelivered) transitionName() string { return "markDelivered" }
func (Close) transitionName() string         { return "close" }
func (Cancel) transitionName() string        { return "cancel" }
func (ReverseIssue) transitionName() string  { return "reverseIssue" }
func (LinkInvoice) transitionName() string   { return "linkInvoice" }

// TransitionOutcome reports what a transition did. Skipped means the challan
// was already in the requested state and nothing was changed, which callers
// treat as success.
type TransitionOutcome struct {
	Challan *models.Challan
	Skipped bool
}

func userNameFromContext(ctx context.Context) (string, bool) {
	return utils.GetUserNameFromContext(ctx)
}

func actorFromContext(ctx context.Context) (changedBy string, userName string) {
	if id, ok := utils.GetUserIdFromContext(ctx); ok {
		changedBy = fmt.Sprint(id)
	}
	userName, _ = utils.GetUserNameFromContext(ctx)
	return
}

// CreateChallan resolves the source document into dispatch lines and writes
// the Draft challan, its first status event and the upstream DC_PENDING
// mirror in a single transaction.
func CreateChallan(ctx context.Context, input *models.NewChallan) (*models.Challan, error) {
	logger := config.GetLogger()

	ctx, span := tracer.Start(ctx, "challan.create")
	defer span.End()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.Validate(ctx, businessId); err != nil {
		return nil, err
	}
	sourceType, _ := models.ParseSourceType(input.SourceType)

	settings, err := models.ResolveFulfillmentSettings(ctx, businessId)
	if err != nil {
		return nil, err
	}

	resolved, err := ResolveSource(ctx, businessId, sourceType, input.SourceId, settings)
	if err != nil {
		return nil, err
	}

	if !utils.DereferencePtr(settings.AllowPartialDispatch) {
		if err := ensureSingleDispatch(ctx, businessId, sourceType, input.SourceId); err != nil {
			return nil, err
		}
	}

	challanDate := input.ChallanDate
	if challanDate.IsZero() {
		challanDate = time.Now().UTC()
	}
	challanType := models.ChallanType(input.ChallanType)
	if challanType == "" {
		challanType = models.ChallanTypeDelivery
	}

	lineItems := resolved.LineItems
	if len(input.LineItemOverrides) > 0 {
		// partial dispatch: the caller's lines replace the resolved ones
		if !utils.DereferencePtr(settings.AllowPartialDispatch) {
			return nil, utils.NewValidationError("items", "partial dispatch is disabled for this business")
		}
		lineItems = nil
		for _, item := range input.LineItemOverrides {
			lineItems = append(lineItems, models.ChallanLineItem{
				ProductId: item.ProductId,
				Name:      item.Name,
				Unit:      item.Unit,
				Qty:       item.Qty,
				Notes:     item.Notes,
				IsLabor:   utils.NewFalse(),
			})
		}
	}
	for _, extra := range input.ExtraLineItems {
		lineItems = append(lineItems, models.ChallanLineItem{
			ProductId: extra.ProductId,
			Name:      extra.Name,
			Unit:      extra.Unit,
			Qty:       extra.Qty,
			Notes:     extra.Notes,
			IsLabor:   utils.NewFalse(),
		})
	}

	thirdParty := input.ThirdPartyDelivery
	if thirdParty == nil {
		thirdParty = settings.ThirdPartyDeliveryByDefault
	}
	hideSender := input.HideSenderOnPdf
	if hideSender == nil {
		hideSender = settings.HideSenderByDefault
	}

	changedBy, userName := actorFromContext(ctx)

	challan := models.Challan{
		BusinessId:      businessId,
		SourceType:      resolved.SourceType,
		SourceId:        resolved.SourceId,
		QuotationId:     resolved.QuotationId,
		InvoiceId:       resolved.InvoiceId,
		ReadinessListId: resolved.ReadinessListId,
		ChallanType:     challanType,
		ChallanDate:     challanDate,
		CurrentStatus:   models.ChallanStatusDraft,

		BillToName:    firstNonEmpty(input.BillToName, resolved.CustomerName),
		BillToPhone:   firstNonEmpty(input.BillToPhone, resolved.CustomerPhone),
		BillToAddress: firstNonEmpty(input.BillToAddress, resolved.CustomerAddress),
		ShipToName:    firstNonEmpty(input.ShipToName, resolved.CustomerName),
		ShipToPhone:   firstNonEmpty(input.ShipToPhone, resolved.CustomerPhone),
		ShipToAddress: firstNonEmpty(input.ShipToAddress, resolved.CustomerAddress),

		TransporterName:    input.TransporterName,
		VehicleNo:          input.VehicleNo,
		DriverName:         input.DriverName,
		DriverPhone:        input.DriverPhone,
		LrNo:               input.LrNo,
		ThirdPartyDelivery: thirdParty,
		HideSenderOnPdf:    hideSender,

		Notes:     input.Notes,
		CreatedBy: changedBy,
		LineItems: lineItems,
	}
	challan.RecomputeTotals()

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := models.NextChallanNumberTx(tx, businessId, challanDate)
		if err != nil {
			return err
		}
		challan.ChallanNumber = number

		if err := tx.Create(&challan).Error; err != nil {
			return err
		}
		if err := models.AppendStatusEventTx(tx, challan.ID, models.ChallanStatusDraft, changedBy, userName, "created"); err != nil {
			return err
		}
		if err := setUpstreamDispatchStatusTx(tx, businessId, challan.QuotationId, challan.InvoiceId, models.DispatchStatusDcPending); err != nil {
			return err
		}
		return models.PublishDispatchEvent(ctx, tx, businessId, challan.ID, challan.ChallanNumber, "challan.created", &challan)
	})
	if err != nil {
		config.LogError(logger, moduleName, "CreateChallan", "transaction failed", input, err)
		return nil, err
	}
	return &challan, nil
}

// ensureSingleDispatch rejects a second live challan for the same source
// when partial dispatch is disabled.
func ensureSingleDispatch(ctx context.Context, businessId string, sourceType models.SourceType, sourceId int) error {
	count, err := utils.ResourceCountWhere[models.Challan](ctx, businessId,
		"source_type = ? AND source_id = ? AND current_status != ?",
		sourceType, sourceId, models.ChallanStatusCancelled)
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.NewValidationError("source_id", "partial dispatch is disabled and a challan already exists for this source")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Transition applies one lifecycle command. Status flips are guarded by a
// compare-and-set on current_status, so concurrent requests resolve to one
// winner; losers either skip (idempotent re-issue) or get a state conflict.
func Transition(ctx context.Context, challanId int, cmd TransitionCommand) (*TransitionOutcome, error) {
	logger := config.GetLogger()

	ctx, span := tracer.Start(ctx, "challan.transition")
	span.SetAttributes(
		attribute.String("challan.action", cmd.transitionName()),
		attribute.Int("challan.id", challanId),
	)
	defer span.End()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.BusinessLock(ctx, businessId, "DispatchLock", moduleName, "Transition"); err != nil {
		return nil, err
	}

	challan, err := utils.FetchModel[models.Challan](ctx, businessId, challanId, "LineItems")
	if err != nil {
		return nil, err
	}

	var outcome *TransitionOutcome
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		switch c := cmd.(type) {
		case UpdateDetails:
			outcome, txErr = applyUpdateDetails(ctx, tx, challan, c)
		case Issue:
			outcome, txErr = applyIssue(ctx, tx, challan, c)
		case MarkDelivered:
			outcome, txErr = applyMarkDelivered(ctx, tx, challan, c)
		case Close:
			outcome, txErr = applyClose(ctx, tx, challan, c)
		case Cancel:
			outcome, txErr = applyCancel(ctx, tx, challan, c)
		case ReverseIssue:
			outcome, txErr = applyReverseIssue(ctx, tx, challan, c)
		case LinkInvoice:
			outcome, txErr = applyLinkInvoice(ctx, tx, challan, c)
		default:
			txErr = errors.New("unknown transition command")
		}
		return txErr
	})
	if err != nil {
		var sc *utils.StateConflictError
		var du *utils.DependencyUnreadyError
		if !errors.As(err, &sc) && !errors.As(err, &du) {
			config.LogError(logger, moduleName, "Transition", cmd.transitionName(), challanId, err)
		}
		return nil, err
	}
	return outcome, nil
}

func applyUpdateDetails(ctx context.Context, tx *gorm.DB, challan *models.Challan, cmd UpdateDetails) (*TransitionOutcome, error) {
	if challan.CurrentStatus != models.ChallanStatusDraft {
		return nil, &utils.StateConflictError{
			Action:   "update details",
			Current:  string(challan.CurrentStatus),
			Required: string(models.ChallanStatusDraft),
		}
	}

	d := cmd.Details
	if d.DriverPhone != nil && *d.DriverPhone != "" {
		if err := utils.ValidatePhoneNumber(*d.DriverPhone, utils.CountryCode); err != nil {
			return nil, utils.NewValidationError("driver_phone", "is not a valid phone number")
		}
	}

	updates := map[string]interface{}{}
	setIfPresent := func(column string, v *string) {
		if v != nil {
			updates[column] = *v
		}
	}
	setIfPresent("bill_to_name", d.BillToName)
	setIfPresent("bill_to_phone", d.BillToPhone)
	setIfPresent("bill_to_address", d.BillToAddress)
	setIfPresent("ship_to_name", d.ShipToName)
	setIfPresent("ship_to_phone", d.ShipToPhone)
	setIfPresent("ship_to_address", d.ShipToAddress)
	setIfPresent("transporter_name", d.TransporterName)
	setIfPresent("vehicle_no", d.VehicleNo)
	setIfPresent("driver_name", d.DriverName)
	setIfPresent("driver_phone", d.DriverPhone)
	setIfPresent("lr_no", d.LrNo)
	setIfPresent("notes", d.Notes)
	if d.ChallanDate != nil {
		updates["challan_date"] = *d.ChallanDate
	}
	if d.ThirdPartyDelivery != nil {
		updates["third_party_delivery"] = *d.ThirdPartyDelivery
	}
	if d.HideSenderOnPdf != nil {
		updates["hide_sender_on_pdf"] = *d.HideSenderOnPdf
	}
	if len(updates) == 0 {
		return &TransitionOutcome{Challan: challan, Skipped: true}, nil
	}

	// guard against a concurrent issue: only update while still Draft
	result := tx.Model(&models.Challan{}).
		Where("business_id = ? AND id = ? AND current_status = ?", challan.BusinessId, challan.ID, models.ChallanStatusDraft).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, &utils.StateConflictError{
			Action:   "update details",
			Current:  "changed concurrently",
			Required: string(models.ChallanStatusDraft),
		}
	}
	return reloadOutcome(tx, challan.BusinessId, challan.ID, false)
}

func applyIssue(ctx context.Context, tx *gorm.DB, challan *models.Challan, cmd Issue) (*TransitionOutcome, error) {
	// re-issue of an already-Issued challan is a no-op success
	if challan.CurrentStatus == models.ChallanStatusIssued {
		return &TransitionOutcome{Challan: challan, Skipped: true}, nil
	}
	if challan.CurrentStatus != models.ChallanStatusDraft {
		return nil, &utils.StateConflictError{
			Action:   "issue challan",
			Current:  string(challan.CurrentStatus),
			Required: string(models.ChallanStatusDraft),
		}
	}

	settings, err := models.ResolveFulfillmentSettings(ctx, challan.BusinessId)
	if err != nil {
		return nil, err
	}
	if requiresReadiness(settings, challan.SourceType, challan.QuotationId) {
		if err := checkReadinessStillReady(tx, challan); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	won, err := models.CasChallanStatusTx(tx, challan.BusinessId, challan.ID,
		models.ChallanStatusDraft, models.ChallanStatusIssued,
		map[string]interface{}{"issued_at": &now})
	if err != nil {
		return nil, err
	}
	if !won {
		// another request got there first; report skip if it issued
		var current models.Challan
		if err := tx.Where("business_id = ?", challan.BusinessId).First(&current, challan.ID).Error; err != nil {
			return nil, err
		}
		if current.CurrentStatus == models.ChallanStatusIssued {
			return &TransitionOutcome{Challan: &current, Skipped: true}, nil
		}
		return nil, &utils.StateConflictError{
			Action:   "issue challan",
			Current:  string(current.CurrentStatus),
			Required: string(models.ChallanStatusDraft),
		}
	}

	if _, err := PerformStockOut(ctx, tx, challan); err != nil {
		return nil, err
	}

	if challan.ReadinessListId > 0 {
		if err := models.ReleaseReservationsTx(tx, challan.BusinessId, challan.ReadinessListId, challan.ID, now); err != nil {
			return nil, err
		}
		if err := models.CloseReadinessListTx(tx, challan.BusinessId, challan.ReadinessListId); err != nil {
			return nil, err
		}
	} else if challan.QuotationId > 0 {
		// no list on this challan, but the quotation may still hold
		// reservations for what just shipped
		productIds := make([]int, 0, len(challan.LineItems))
		for _, line := range challan.StockLineItems() {
			productIds = append(productIds, line.ProductId)
		}
		if err := models.ReleaseReservationsForProductsTx(tx, challan.BusinessId, challan.QuotationId, productIds, challan.ID, now); err != nil {
			return nil, err
		}
	}

	if err := setUpstreamDispatchStatusTx(tx, challan.BusinessId, challan.QuotationId, challan.InvoiceId, models.DispatchStatusDispatched); err != nil {
		return nil, err
	}

	changedBy, userName := actorFromContext(ctx)
	if err := models.AppendStatusEventTx(tx, challan.ID, models.ChallanStatusIssued, changedBy, userName, cmd.Notes); err != nil {
		return nil, err
	}
	if err := models.PublishDispatchEvent(ctx, tx, challan.BusinessId, challan.ID, challan.ChallanNumber, "challan.issued", nil); err != nil {
		return nil, err
	}
	return reloadOutcome(tx, challan.BusinessId, challan.ID, false)
}

func applyMarkDelivered(ctx context.Context, tx *gorm.DB, challan *models.Challan, cmd MarkDelivered) (*TransitionOutcome, error) {
	if challan.CurrentStatus == models.ChallanStatusDelivered {
		return &TransitionOutcome{Challan: challan, Skipped: true}, nil
	}
	if challan.CurrentStatus != models.ChallanStatusIssued {
		return nil, &utils.StateConflictError{
			Action:   "mark delivered",
			Current:  string(challan.CurrentStatus),
			Required: string(models.ChallanStatusIssued),
		}
	}
	if cmd.ReceiverName == "" {
		return nil, utils.NewValidationError("receiver_name", "is required")
	}
	if cmd.ReceiverPhone != "" {
		if err := utils.ValidatePhoneNumber(cmd.ReceiverPhone, utils.CountryCode); err != nil {
			return nil, utils.NewValidationError("receiver_phone", "is not a valid phone number")
		}
	}

	now := time.Now().UTC()
	condition := cmd.Condition
	if condition == "" {
		condition = models.DeliveredConditionGood
	}
	won, err := models.CasChallanStatusTx(tx, challan.BusinessId, challan.ID,
		models.ChallanStatusIssued, models.ChallanStatusDelivered,
		map[string]interface{}{
			"delivered_at":        &now,
			"receiver_name":       cmd.ReceiverName,
			"receiver_phone":      cmd.ReceiverPhone,
			"delivery_photo_url":  cmd.DeliveryPhotoUrl,
			"signed_receipt_url":  cmd.SignedReceiptUrl,
			"delivered_condition": condition,
		})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &utils.StateConflictError{
			Action:   "mark delivered",
			Current:  "changed concurrently",
			Required: string(models.ChallanStatusIssued),
		}
	}

	if err := setUpstreamDispatchStatusTx(tx, challan.BusinessId, challan.QuotationId, challan.InvoiceId, models.DispatchStatusDelivered); err != nil {
		return nil, err
	}

	changedBy, userName := actorFromContext(ctx)
	if err := models.AppendStatusEventTx(tx, challan.ID, models.ChallanStatusDelivered, changedBy, userName, cmd.Notes); err != nil {
		return nil, err
	}
	if err := models.PublishDispatchEvent(ctx, tx, challan.BusinessId, challan.ID, challan.ChallanNumber, "challan.delivered", nil); err != nil {
		return nil, err
	}
	return reloadOutcome(tx, challan.BusinessId, challan.ID, false)
}

func applyClose(ctx context.Context, tx *gorm.DB, challan *models.Challan, cmd Close) (*TransitionOutcome, error) {
	if challan.CurrentStatus == models.ChallanStatusClosed {
		return &TransitionOutcome{Challan: challan, Skipped: true}, nil
	}
	// administrative closure is allowed from any non-terminal status
	if challan.CurrentStatus.IsTerminal() {
		return nil, &utils.StateConflictError{
			Action:   "close challan",
			Current:  string(challan.CurrentStatus),
			Required: "a non-terminal status",
		}
	}

	now := time.Now().UTC()
	won, err := models.CasChallanStatusTx(tx, challan.BusinessId, challan.ID,
		challan.CurrentStatus, models.ChallanStatusClosed,
		map[string]interface{}{"closed_at": &now})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &utils.StateConflictError{
			Action:   "close challan",
			Current:  "changed concurrently",
			Required: string(challan.CurrentStatus),
		}
	}

	changedBy, userName := actorFromContext(ctx)
	if err := models.AppendStatusEventTx(tx, challan.ID, models.ChallanStatusClosed, changedBy, userName, cmd.Notes); err != nil {
		return nil, err
	}
	if err := models.PublishDispatchEvent(ctx, tx, challan.BusinessId, challan.ID, challan.ChallanNumber, "challan.closed", nil); err != nil {
		return nil, err
	}
	return reloadOutcome(tx, challan.BusinessId, challan.ID, false)
}

func applyCancel(ctx context.Context, tx *gorm.DB, challan *models.Challan, cmd Cancel) (*TransitionOutcome, error) {
	if challan.CurrentStatus == models.ChallanStatusCancelled {
		return &TransitionOutcome{Challan: challan, Skipped: true}, nil
	}
	// an Issued challan holds deducted stock; only ReverseIssue may cancel it
	if challan.CurrentStatus != models.ChallanStatusDraft {
		return nil, &utils.StateConflictError{
			Action:   "cancel challan",
			Current:  string(challan.CurrentStatus),
			Required: string(models.ChallanStatusDraft),
		}
	}

	now := time.Now().UTC()
	won, err := models.CasChallanStatusTx(tx, challan.BusinessId, challan.ID,
		models.ChallanStatusDraft, models.ChallanStatusCancelled,
		map[string]interface{}{"cancelled_at": &now})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &utils.StateConflictError{
			Action:   "cancel challan",
			Current:  "changed concurrently",
			Required: string(models.ChallanStatusDraft),
		}
	}

	if err := recomputeUpstreamDispatchStatusTx(tx, challan.BusinessId, challan.QuotationId, challan.InvoiceId, challan.ID); err != nil {
		return nil, err
	}

	changedBy, userName := actorFromContext(ctx)
	if err := models.AppendStatusEventTx(tx, challan.ID, models.ChallanStatusCancelled, changedBy, userName, cmd.Reason); err != nil {
		return nil, err
	}
	if err := models.PublishDispatchEvent(ctx, tx, challan.BusinessId, challan.ID, challan.ChallanNumber, "challan.cancelled", nil); err != nil {
		return nil, err
	}
	return reloadOutcome(tx, challan.BusinessId, challan.ID, false)
}

func applyReverseIssue(ctx context.Context, tx *gorm.DB, challan *models.Challan, cmd ReverseIssue) (*TransitionOutcome, error) {
	if challan.CurrentStatus == models.ChallanStatusCancelled {
		return &TransitionOutcome{Challan: challan, Skipped: true}, nil
	}
	if challan.CurrentStatus != models.ChallanStatusIssued {
		return nil, &utils.StateConflictError{
			Action:   "reverse issue",
			Current:  string(challan.CurrentStatus),
			Required: string(models.ChallanStatusIssued),
		}
	}

	now := time.Now().UTC()
	won, err := models.CasChallanStatusTx(tx, challan.BusinessId, challan.ID,
		models.ChallanStatusIssued, models.ChallanStatusCancelled,
		map[string]interface{}{"cancelled_at": &now})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &utils.StateConflictError{
			Action:   "reverse issue",
			Current:  "changed concurrently",
			Required: string(models.ChallanStatusIssued),
		}
	}

	if err := PerformReversal(ctx, tx, challan, cmd.Reason); err != nil {
		return nil, err
	}

	if err := recomputeUpstreamDispatchStatusTx(tx, challan.BusinessId, challan.QuotationId, challan.InvoiceId, challan.ID); err != nil {
		return nil, err
	}

	changedBy, userName := actorFromContext(ctx)
	if err := models.AppendStatusEventTx(tx, challan.ID, models.ChallanStatusCancelled, changedBy, userName, "issue reversed: "+cmd.Reason); err != nil {
		return nil, err
	}
	if err := models.PublishDispatchEvent(ctx, tx, challan.BusinessId, challan.ID, challan.ChallanNumber, "challan.issue_reversed", nil); err != nil {
		return nil, err
	}
	return reloadOutcome(tx, challan.BusinessId, challan.ID, false)
}

// applyLinkInvoice attaches or replaces the invoice back-reference. Allowed
// at any status; the status itself never changes.
func applyLinkInvoice(ctx context.Context, tx *gorm.DB, challan *models.Challan, cmd LinkInvoice) (*TransitionOutcome, error) {
	if cmd.InvoiceId <= 0 {
		return nil, utils.NewValidationError("invoice_id", "is required")
	}
	var invoice models.Invoice
	if err := tx.Where("business_id = ?", challan.BusinessId).First(&invoice, cmd.InvoiceId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	if err := tx.Model(&models.Challan{}).
		Where("business_id = ? AND id = ?", challan.BusinessId, challan.ID).
		Update("invoice_id", cmd.InvoiceId).Error; err != nil {
		return nil, err
	}

	// the linked invoice inherits whatever dispatch progress its challans
	// (including this one, just linked) add up to
	if err := recomputeUpstreamDispatchStatusTx(tx, challan.BusinessId, 0, cmd.InvoiceId, 0); err != nil {
		return nil, err
	}
	return reloadOutcome(tx, challan.BusinessId, challan.ID, false)
}

func requiresReadiness(settings *models.FulfillmentSettings, sourceType models.SourceType, quotationId int) bool {
	switch sourceType {
	case models.SourceTypeInvoice:
		// the gate is the upstream quotation's list; a standalone invoice
		// has no list to wait on
		return utils.DereferencePtr(settings.RequireReadinessForInvoice) && quotationId > 0
	case models.SourceTypeQuotation:
		return utils.DereferencePtr(settings.RequireReadinessForDispatch)
	}
	// readiness_list sources always re-check their own list
	return true
}

// checkReadinessStillReady re-validates the readiness gate at issue time;
// the list could have been cancelled since the challan was drafted.
func checkReadinessStillReady(tx *gorm.DB, challan *models.Challan) error {
	if challan.ReadinessListId == 0 {
		return &utils.DependencyUnreadyError{
			Dependency: "readiness list",
			Status:     "missing",
			Message:    "issuing requires a READY readiness list for this source",
		}
	}
	var status models.ReadinessStatus
	err := tx.Model(&models.ReadinessList{}).
		Where("business_id = ? AND id = ?", challan.BusinessId, challan.ReadinessListId).
		Select("current_status").
		Scan(&status).Error
	if err != nil {
		return err
	}
	if status != models.ReadinessStatusReady {
		return &utils.DependencyUnreadyError{
			Dependency: "readiness list",
			Status:     string(status),
		}
	}
	return nil
}

// setUpstreamDispatchStatusTx mirrors a dispatch state onto whichever
// upstream documents the challan is linked to.
func setUpstreamDispatchStatusTx(tx *gorm.DB, businessId string, quotationId int, invoiceId int, status models.DispatchStatus) error {
	if quotationId > 0 {
		if err := models.SetQuotationDispatchStatusTx(tx, businessId, quotationId, status); err != nil {
			return err
		}
	}
	if invoiceId > 0 {
		if err := models.SetInvoiceDispatchStatusTx(tx, businessId, invoiceId, status); err != nil {
			return err
		}
	}
	return nil
}

// recomputeUpstreamDispatchStatusTx derives the upstream status from the
// remaining live challans after one is cancelled or un-issued.
func recomputeUpstreamDispatchStatusTx(tx *gorm.DB, businessId string, quotationId int, invoiceId int, cancelledChallanId int) error {
	var statuses []models.ChallanStatus
	q := tx.Model(&models.Challan{}).
		Where("business_id = ? AND current_status != ?", businessId, models.ChallanStatusCancelled)
	if quotationId > 0 {
		q = q.Where("quotation_id = ?", quotationId)
	} else if invoiceId > 0 {
		q = q.Where("invoice_id = ?", invoiceId)
	} else {
		return nil
	}
	if cancelledChallanId > 0 {
		q = q.Where("id != ?", cancelledChallanId)
	}
	if err := q.Pluck("current_status", &statuses).Error; err != nil {
		return err
	}

	status := models.DispatchStatusNotDispatched
	for _, s := range statuses {
		switch s {
		case models.ChallanStatusDelivered, models.ChallanStatusClosed:
			status = models.DispatchStatusDelivered
		case models.ChallanStatusIssued:
			if status != models.DispatchStatusDelivered {
				status = models.DispatchStatusDispatched
			}
		case models.ChallanStatusDraft:
			if status == models.DispatchStatusNotDispatched {
				status = models.DispatchStatusDcPending
			}
		}
	}
	return setUpstreamDispatchStatusTx(tx, businessId, quotationId, invoiceId, status)
}

func reloadOutcome(tx *gorm.DB, businessId string, challanId int, skipped bool) (*TransitionOutcome, error) {
	var challan models.Challan
	err := tx.Where("business_id = ?", businessId).
		Preload("LineItems").
		Preload("StatusHistory").
		First(&challan, challanId).Error
	if err != nil {
		return nil, err
	}
	return &TransitionOutcome{Challan: &challan, Skipped: skipped}, nil
}
