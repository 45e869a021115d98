package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"bitbucket.org/mmdatafocus/fulfillment_backend/workflow"
	"github.com/gin-gonic/gin"
)

// respondError maps domain errors onto HTTP statuses:
// validation 400, not found 404, state conflict 409, dependency unready 422.
func respondError(c *gin.Context, err error) {
	var ve *utils.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
		return
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	var sc *utils.StateConflictError
	if errors.As(err, &sc) {
		c.JSON(http.StatusConflict, gin.H{
			"error":    sc.Error(),
			"current":  sc.Current,
			"required": sc.Required,
		})
		return
	}
	var du *utils.DependencyUnreadyError
	if errors.As(err, &du) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      du.Error(),
			"dependency": du.Dependency,
			"status":     du.Status,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func createChallanHandler(c *gin.Context) {
	var input models.NewChallan
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	challan, err := workflow.CreateChallan(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, challan)
}

func listChallansHandler(c *gin.Context) {
	var filter models.ChallanFilter
	if v := c.Query("status"); v != "" {
		status := models.ChallanStatus(v)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		filter.Status = &status
	}
	if v := c.Query("type"); v != "" {
		challanType := models.ChallanType(v)
		if !challanType.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type filter"})
			return
		}
		filter.Type = &challanType
	}
	if v := c.Query("source_type"); v != "" {
		sourceType, err := models.ParseSourceType(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source_type filter"})
			return
		}
		filter.SourceType = &sourceType
	}
	if v := c.Query("source_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			filter.SourceId = &id
		}
	}
	if v := c.Query("quotation_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			filter.QuotationId = &id
		}
	}
	if v := c.Query("invoice_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			filter.InvoiceId = &id
		}
	}
	if v := c.Query("readiness_list_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			filter.ReadinessListId = &id
		}
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.FromDate = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.ToDate = &t
		}
	}
	if v := c.Query("search"); v != "" {
		filter.Search = &v
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	challans, err := models.GetChallansAll(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	counts, err := models.GetChallanStatusCounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": challans, "status_counts": counts})
}

func getChallanHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	challan, err := models.GetChallan(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, challan)
}

// deleteChallanHandler soft-deletes: a Draft challan is cancelled, keeping
// its number and audit trail. Anything past Draft must go through an
// explicit cancel transition.
func deleteChallanHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	challan, err := models.GetChallan(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if challan.CurrentStatus != models.ChallanStatusDraft {
		respondError(c, &utils.StateConflictError{
			Action:   "delete challan",
			Current:  string(challan.CurrentStatus),
			Required: string(models.ChallanStatusDraft),
		})
		return
	}
	outcome, err := workflow.Transition(c.Request.Context(), id, workflow.Cancel{Reason: "deleted while draft"})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome.Challan)
}

type transitionRequest struct {
	Action string `json:"action" binding:"required"`
	Notes  string `json:"notes"`
	Reason string `json:"reason"`

	// mark_delivered proof of delivery
	ReceiverName     string `json:"receiver_name"`
	ReceiverPhone    string `json:"receiver_phone"`
	DeliveryPhotoUrl string `json:"delivery_photo_url"`
	SignedReceiptUrl string `json:"signed_receipt_url"`
	Condition        string `json:"condition"`

	// link_invoice
	InvoiceId int `json:"invoice_id"`

	// update_details
	Details *models.UpdateChallanDetails `json:"details"`
}

func transitionChallanHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cmd workflow.TransitionCommand
	switch req.Action {
	case "issue":
		cmd = workflow.Issue{Notes: req.Notes}
	case "mark_delivered":
		cmd = workflow.MarkDelivered{
			ReceiverName:     req.ReceiverName,
			ReceiverPhone:    req.ReceiverPhone,
			DeliveryPhotoUrl: req.DeliveryPhotoUrl,
			SignedReceiptUrl: req.SignedReceiptUrl,
			Condition:        models.DeliveredCondition(req.Condition),
			Notes:            req.Notes,
		}
	case "close":
		cmd = workflow.Close{Notes: req.Notes}
	case "cancel":
		cmd = workflow.Cancel{Reason: req.Reason}
	case "reverse_issue":
		cmd = workflow.ReverseIssue{Reason: req.Reason}
	case "link_invoice":
		cmd = workflow.LinkInvoice{InvoiceId: req.InvoiceId}
	case "update_details":
		if req.Details == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "details is required for update_details"})
			return
		}
		cmd = workflow.UpdateDetails{Details: *req.Details}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action: " + req.Action})
		return
	}

	outcome, err := workflow.Transition(c.Request.Context(), id, cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": outcome.Challan, "skipped": outcome.Skipped})
}

func getChallanMovementsHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
	outRows, err := models.GetMovementsByReference(c.Request.Context(), businessId, models.MovementReferenceTypeChallan, id)
	if err != nil {
		respondError(c, err)
		return
	}
	reversals, err := models.GetMovementsByReference(c.Request.Context(), businessId, models.MovementReferenceTypeChallanReversal, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": outRows, "reversals": reversals})
}

func getFulfillmentStatusHandler(c *gin.Context) {
	quotationId, _ := strconv.Atoi(c.Query("quotation_id"))
	invoiceId, _ := strconv.Atoi(c.Query("invoice_id"))
	summary, err := workflow.FulfillmentStatus(c.Request.Context(), quotationId, invoiceId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func getFulfillmentSettingsHandler(c *gin.Context) {
	businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
	settings, err := models.ResolveFulfillmentSettings(c.Request.Context(), businessId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func updateFulfillmentSettingsHandler(c *gin.Context) {
	var input models.NewFulfillmentSettings
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings, err := models.UpsertFulfillmentSettings(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func createProductHandler(c *gin.Context) {
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func updateProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := models.UpdateProduct(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func listProductsHandler(c *gin.Context) {
	var name *string
	if v := c.Query("name"); v != "" {
		name = &v
	}
	products, err := models.GetProductsAll(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": products})
}

func getProductStockHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
	onHand, err := models.GetStockOnHand(c.Request.Context(), businessId, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "on_hand": onHand})
}

func createStockLocationHandler(c *gin.Context) {
	var input models.NewStockLocation
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	location, err := models.CreateStockLocation(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, location)
}

func listStockLocationsHandler(c *gin.Context) {
	locations, err := models.GetStockLocationsAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": locations})
}

func createQuotationHandler(c *gin.Context) {
	var input models.NewQuotation
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quotation, err := models.CreateQuotation(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quotation)
}

func getQuotationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	quotation, err := models.GetQuotation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quotation)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func updateQuotationStatusHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quotation, err := models.UpdateQuotationStatus(c.Request.Context(), id, models.QuotationStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quotation)
}

func createInvoiceHandler(c *gin.Context) {
	var input models.NewInvoice
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	invoice, err := models.CreateInvoice(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

func updateInvoiceStatusHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	invoice, err := models.UpdateInvoiceStatus(c.Request.Context(), id, models.InvoiceStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func getInvoiceHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	invoice, err := models.GetInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func createReadinessListHandler(c *gin.Context) {
	var input models.NewReadinessList
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	list, err := models.CreateReadinessList(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, list)
}

func getReadinessListHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	list, err := models.GetReadinessList(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func updateReadinessStatusHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	list, err := models.UpdateReadinessStatus(c.Request.Context(), id, models.ReadinessStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
