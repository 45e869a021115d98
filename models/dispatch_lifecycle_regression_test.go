package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"bitbucket.org/mmdatafocus/fulfillment_backend/workflow"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Full lifecycle against real MySQL + Redis:
// draft -> issue (stock out, idempotent) -> deliver -> close,
// and a second challan whose issue is reversed (stock credited back,
// challan lands in Cancelled).
func TestDispatchLifecycleRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "fulfillment_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	businessID := uuid.NewString()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	// Gate off the readiness requirement; this test dispatches straight
	// from approved quotations.
	settings, err := models.UpsertFulfillmentSettings(ctx, &models.NewFulfillmentSettings{
		RequireReadinessForDispatch: utils.NewFalse(),
		RequireReadinessForInvoice:  utils.NewFalse(),
	})
	if err != nil {
		t.Fatalf("UpsertFulfillmentSettings: %v", err)
	}
	if !settings.DefaultWastagePercent.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("DefaultWastagePercent = %s, want 10", settings.DefaultWastagePercent)
	}

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:            "Oak Plank 1200",
		Sku:             "OAK-1200",
		Unit:            "box",
		CoveragePerUnit: decimal.NewFromInt(25),
		StockQty:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	quotation := approvedQuotation(t, ctx, "QT-0001", product.ID)

	challan, err := workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType: "quotation",
		SourceId:   quotation.ID,
	})
	if err != nil {
		t.Fatalf("CreateChallan: %v", err)
	}
	if challan.CurrentStatus != models.ChallanStatusDraft {
		t.Fatalf("new challan status = %s, want Draft", challan.CurrentStatus)
	}
	if !strings.HasPrefix(challan.ChallanNumber, "DC-") {
		t.Fatalf("challan number %q missing DC prefix", challan.ChallanNumber)
	}
	if len(challan.LineItems) != 1 {
		t.Fatalf("expected 1 resolved line, got %d", len(challan.LineItems))
	}
	// 100 sqft * 1.10 / 25 per box = 4.4 -> 5 boxes
	if !challan.LineItems[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("derived qty = %s, want 5", challan.LineItems[0].Qty)
	}
	if challan.BillToName != "Aung Aung" {
		t.Fatalf("customer snapshot not copied: %q", challan.BillToName)
	}

	// Out-of-order transitions are conflicts.
	if _, err := workflow.Transition(ctx, challan.ID, workflow.MarkDelivered{ReceiverName: "Site Foreman"}); !utils.IsStateConflict(err) {
		t.Fatalf("deliver from Draft should conflict, got %v", err)
	}

	// Issue deducts stock exactly once; a replayed issue is a skip, not an error.
	outcome, err := workflow.Transition(ctx, challan.ID, workflow.Issue{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if outcome.Skipped || outcome.Challan.CurrentStatus != models.ChallanStatusIssued {
		t.Fatalf("issue outcome: skipped=%v status=%s", outcome.Skipped, outcome.Challan.CurrentStatus)
	}
	assertOnHand(t, ctx, businessID, product.ID, "95")

	outcome, err = workflow.Transition(ctx, challan.ID, workflow.Issue{})
	if err != nil {
		t.Fatalf("replayed issue: %v", err)
	}
	if !outcome.Skipped {
		t.Fatal("replayed issue should be a skip")
	}
	assertOnHand(t, ctx, businessID, product.ID, "95")

	movements, err := models.GetMovementsByReference(ctx, businessID, models.MovementReferenceTypeChallan, challan.ID)
	if err != nil {
		t.Fatalf("GetMovementsByReference: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 out movement, got %d", len(movements))
	}
	if !movements[0].Qty.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("out movement qty = %s, want -5", movements[0].Qty)
	}

	q, err := models.GetQuotation(ctx, quotation.ID)
	if err != nil {
		t.Fatalf("GetQuotation: %v", err)
	}
	if q.DispatchStatus != models.DispatchStatusDispatched {
		t.Fatalf("quotation dispatch status = %s, want DISPATCHED", q.DispatchStatus)
	}

	// Once stock moved, plain cancel is off the table; reverse_issue is the
	// only way to undo the dispatch.
	if _, err := workflow.Transition(ctx, challan.ID, workflow.Cancel{Reason: "changed my mind"}); !utils.IsStateConflict(err) {
		t.Fatalf("cancel from Issued should conflict, got %v", err)
	}

	outcome, err = workflow.Transition(ctx, challan.ID, workflow.MarkDelivered{
		ReceiverName: "Site Foreman",
		Condition:    models.DeliveredConditionGood,
	})
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if outcome.Challan.DeliveredAt == nil {
		t.Fatal("delivered_at not set")
	}

	outcome, err = workflow.Transition(ctx, challan.ID, workflow.Close{})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	// every transition appended one audit row: Draft, Issued, Delivered, Closed
	if len(outcome.Challan.StatusHistory) != 4 {
		t.Fatalf("status history has %d rows, want 4", len(outcome.Challan.StatusHistory))
	}
	if _, err := workflow.Transition(ctx, challan.ID, workflow.Cancel{Reason: "too late"}); !utils.IsStateConflict(err) {
		t.Fatalf("cancel after close should conflict, got %v", err)
	}

	// Second challan: reversing an issue must land in Cancelled and
	// compensate the stock out.
	quotation2 := approvedQuotation(t, ctx, "QT-0002", product.ID)
	challan2, err := workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType: "quotation",
		SourceId:   quotation2.ID,
	})
	if err != nil {
		t.Fatalf("CreateChallan #2: %v", err)
	}
	if _, err := workflow.Transition(ctx, challan2.ID, workflow.Issue{}); err != nil {
		t.Fatalf("issue #2: %v", err)
	}
	assertOnHand(t, ctx, businessID, product.ID, "90")

	outcome, err = workflow.Transition(ctx, challan2.ID, workflow.ReverseIssue{Reason: "customer pushed the date"})
	if err != nil {
		t.Fatalf("reverse issue #2: %v", err)
	}
	if outcome.Challan.CurrentStatus != models.ChallanStatusCancelled {
		t.Fatalf("reversed challan status = %s, want Cancelled", outcome.Challan.CurrentStatus)
	}
	assertOnHand(t, ctx, businessID, product.ID, "95")

	// The reversed challan is terminal; issuing it again must not sneak the
	// deduction back in.
	if _, err := workflow.Transition(ctx, challan2.ID, workflow.Issue{}); !utils.IsStateConflict(err) {
		t.Fatalf("issue after reversal should conflict, got %v", err)
	}
	assertOnHand(t, ctx, businessID, product.ID, "95")

	reversals, err := models.GetMovementsByReference(ctx, businessID, models.MovementReferenceTypeChallanReversal, challan2.ID)
	if err != nil {
		t.Fatalf("fetch reversals: %v", err)
	}
	if len(reversals) != 1 {
		t.Fatalf("expected 1 reversal movement, got %d", len(reversals))
	}
	if !reversals[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("reversal qty = %s, want 5", reversals[0].Qty)
	}
	// Originals are never deleted.
	outs, err := models.GetMovementsByReference(ctx, businessID, models.MovementReferenceTypeChallan, challan2.ID)
	if err != nil {
		t.Fatalf("fetch out rows: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("out movement should survive the reversal, got %d rows", len(outs))
	}

	q2, err := models.GetQuotation(ctx, quotation2.ID)
	if err != nil {
		t.Fatalf("GetQuotation #2: %v", err)
	}
	if q2.DispatchStatus != models.DispatchStatusNotDispatched {
		t.Fatalf("reversed quotation dispatch status = %s, want NOT_DISPATCHED", q2.DispatchStatus)
	}

	// A quotation that was never approved is the wrong status to dispatch
	// from, which is a conflict rather than a missing dependency.
	draftQuotation, err := models.CreateQuotation(ctx, &models.NewQuotation{
		CustomerName:    "Aung Aung",
		QuotationDate:   time.Now().UTC(),
		QuotationNumber: "QT-DRAFT",
		Details: []models.NewQuotationDetail{
			{ProductId: product.ID, Name: product.Name, Area: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("CreateQuotation QT-DRAFT: %v", err)
	}
	_, err = workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType: "quotation",
		SourceId:   draftQuotation.ID,
	})
	if !utils.IsStateConflict(err) {
		t.Fatalf("dispatching an unapproved quotation should conflict, got %v", err)
	}

	// Readiness gate: with the requirement on, a quotation with no READY
	// list cannot be dispatched.
	if _, err := models.UpsertFulfillmentSettings(ctx, &models.NewFulfillmentSettings{
		RequireReadinessForDispatch: utils.NewTrue(),
	}); err != nil {
		t.Fatalf("flip readiness setting: %v", err)
	}
	quotation3 := approvedQuotation(t, ctx, "QT-0003", product.ID)
	_, err = workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType: "quotation",
		SourceId:   quotation3.ID,
	})
	if !utils.IsDependencyUnready(err) {
		t.Fatalf("expected dependency-unready without a READY list, got %v", err)
	}

	// With a READY list linked, dispatch works, the list's picked
	// quantities (not the quotation's derived ones) become the challan
	// lines, and the list closes on issue.
	list, err := models.CreateReadinessList(ctx, &models.NewReadinessList{
		QuotationId: quotation3.ID,
		ListNumber:  "RL-0001",
		Items: []models.NewReadinessListItem{
			{ProductId: product.ID, Name: product.Name, RequiredQty: decimal.NewFromInt(5), PickedQty: decimal.NewFromInt(4)},
		},
	})
	if err != nil {
		t.Fatalf("CreateReadinessList: %v", err)
	}
	if _, err := models.UpdateReadinessStatus(ctx, list.ID, models.ReadinessStatusReady); err != nil {
		t.Fatalf("mark list READY: %v", err)
	}
	challan3, err := workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType: "quotation",
		SourceId:   quotation3.ID,
	})
	if err != nil {
		t.Fatalf("CreateChallan #3: %v", err)
	}
	if challan3.ReadinessListId != list.ID {
		t.Fatalf("challan not linked to READY list: %d", challan3.ReadinessListId)
	}
	if len(challan3.LineItems) != 1 || !challan3.LineItems[0].Qty.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("gated dispatch must use the picked quantity, got %+v", challan3.LineItems)
	}
	if _, err := workflow.Transition(ctx, challan3.ID, workflow.Issue{}); err != nil {
		t.Fatalf("issue #3: %v", err)
	}
	assertOnHand(t, ctx, businessID, product.ID, "91")
	closedList, err := models.GetReadinessList(ctx, list.ID)
	if err != nil {
		t.Fatalf("GetReadinessList: %v", err)
	}
	if closedList.CurrentStatus != models.ReadinessStatusClosed {
		t.Fatalf("list status after issue = %s, want CLOSED", closedList.CurrentStatus)
	}
	reserved, err := models.GetActiveReservedQty(ctx, businessID, product.ID)
	if err != nil {
		t.Fatalf("GetActiveReservedQty: %v", err)
	}
	if !reserved.IsZero() {
		t.Fatalf("reservations not released on issue: %s", reserved)
	}

	// Partial dispatch: an items override replaces the resolved lines, and is
	// rejected outright when the business disables partial dispatch.
	if _, err := models.UpsertFulfillmentSettings(ctx, &models.NewFulfillmentSettings{
		RequireReadinessForDispatch: utils.NewFalse(),
		AllowPartialDispatch:        utils.NewFalse(),
	}); err != nil {
		t.Fatalf("disable partial dispatch: %v", err)
	}
	quotation4 := approvedQuotation(t, ctx, "QT-0004", product.ID)
	override := []models.NewChallanLineItem{
		{ProductId: product.ID, Name: product.Name, Qty: decimal.NewFromInt(2)},
	}
	_, err = workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType:        "quotation",
		SourceId:          quotation4.ID,
		LineItemOverrides: override,
	})
	if !utils.IsValidationError(err) {
		t.Fatalf("override with partial dispatch disabled should be a validation error, got %v", err)
	}

	if _, err := models.UpsertFulfillmentSettings(ctx, &models.NewFulfillmentSettings{
		AllowPartialDispatch: utils.NewTrue(),
	}); err != nil {
		t.Fatalf("enable partial dispatch: %v", err)
	}
	// A hold created for this quotation earlier must not outlive the
	// dispatch even though the challan carries no list.
	if _, err := models.CreateReadinessList(ctx, &models.NewReadinessList{
		QuotationId: quotation4.ID,
		ListNumber:  "RL-0002",
		Items: []models.NewReadinessListItem{
			{ProductId: product.ID, Name: product.Name, RequiredQty: decimal.NewFromInt(5)},
		},
	}); err != nil {
		t.Fatalf("CreateReadinessList #2: %v", err)
	}

	challan4, err := workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType:        "quotation",
		SourceId:          quotation4.ID,
		LineItemOverrides: override,
	})
	if err != nil {
		t.Fatalf("CreateChallan #4: %v", err)
	}
	if len(challan4.LineItems) != 1 || !challan4.LineItems[0].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("override lines not applied: %+v", challan4.LineItems)
	}
	if _, err := workflow.Transition(ctx, challan4.ID, workflow.Issue{}); err != nil {
		t.Fatalf("issue #4: %v", err)
	}
	assertOnHand(t, ctx, businessID, product.ID, "89")
	reserved, err = models.GetActiveReservedQty(ctx, businessID, product.ID)
	if err != nil {
		t.Fatalf("GetActiveReservedQty after issue #4: %v", err)
	}
	if !reserved.IsZero() {
		t.Fatalf("quotation hold survived a listless dispatch: %s", reserved)
	}

	// Closing straight from Issued is allowed; the paper trail just ends
	// without a delivery confirmation.
	outcome, err = workflow.Transition(ctx, challan4.ID, workflow.Close{})
	if err != nil {
		t.Fatalf("close #4 from Issued: %v", err)
	}
	if outcome.Challan.CurrentStatus != models.ChallanStatusClosed {
		t.Fatalf("early close status = %s, want Closed", outcome.Challan.CurrentStatus)
	}

	// Invoice sources get the same area derivation, and a standalone
	// invoice (no quotation behind it) is never readiness-gated.
	if _, err := models.UpsertFulfillmentSettings(ctx, &models.NewFulfillmentSettings{
		RequireReadinessForInvoice: utils.NewTrue(),
	}); err != nil {
		t.Fatalf("flip invoice readiness setting: %v", err)
	}
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceNumber: "INV-0001",
		CustomerName:  "Aung Aung",
		InvoiceDate:   time.Now().UTC(),
		Details: []models.NewInvoiceDetail{
			{ProductId: product.ID, Name: product.Name, Area: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	_, err = workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType: "invoice",
		SourceId:   invoice.ID,
	})
	if !utils.IsStateConflict(err) {
		t.Fatalf("dispatching a Draft invoice should conflict, got %v", err)
	}
	if _, err := models.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusConfirmed); err != nil {
		t.Fatalf("confirm invoice: %v", err)
	}
	challan5, err := workflow.CreateChallan(ctx, &models.NewChallan{
		SourceType: "invoice",
		SourceId:   invoice.ID,
	})
	if err != nil {
		t.Fatalf("CreateChallan #5: %v", err)
	}
	if challan5.ReadinessListId != 0 {
		t.Fatalf("standalone invoice should not be gated, got list %d", challan5.ReadinessListId)
	}
	// 100 sqft * 1.10 / 25 per box = 4.4 -> 5 boxes
	if len(challan5.LineItems) != 1 || !challan5.LineItems[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("invoice area derivation off: %+v", challan5.LineItems)
	}
	if _, err := workflow.Transition(ctx, challan5.ID, workflow.Issue{}); err != nil {
		t.Fatalf("issue #5: %v", err)
	}
	assertOnHand(t, ctx, businessID, product.ID, "84")

	// Paperwork catches up late: an invoice can be attached even after the
	// challan closed, without reopening it.
	outcome, err = workflow.Transition(ctx, challan4.ID, workflow.LinkInvoice{InvoiceId: invoice.ID})
	if err != nil {
		t.Fatalf("link invoice to closed challan: %v", err)
	}
	if outcome.Challan.InvoiceId != invoice.ID {
		t.Fatalf("invoice not linked: %d", outcome.Challan.InvoiceId)
	}
	if outcome.Challan.CurrentStatus != models.ChallanStatusClosed {
		t.Fatalf("linking must not change status, got %s", outcome.Challan.CurrentStatus)
	}
}

func approvedQuotation(t *testing.T, ctx context.Context, number string, productId int) *models.Quotation {
	t.Helper()
	quotation, err := models.CreateQuotation(ctx, &models.NewQuotation{
		CustomerName:    "Aung Aung",
		CustomerPhone:   "+959790123456",
		CustomerAddress: "12 Inya Road, Yangon",
		QuotationDate:   time.Now().UTC(),
		QuotationNumber: number,
		Details: []models.NewQuotationDetail{
			{ProductId: productId, Name: "Oak Plank 1200", Area: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("CreateQuotation %s: %v", number, err)
	}
	if _, err := models.UpdateQuotationStatus(ctx, quotation.ID, models.QuotationStatusApproved); err != nil {
		t.Fatalf("approve %s: %v", number, err)
	}
	return quotation
}

func assertOnHand(t *testing.T, ctx context.Context, businessID string, productId int, want string) {
	t.Helper()
	onHand, err := models.GetStockOnHand(ctx, businessID, productId)
	if err != nil {
		t.Fatalf("GetStockOnHand: %v", err)
	}
	expected, err := decimal.NewFromString(want)
	if err != nil {
		t.Fatalf("bad expected value %q: %v", want, err)
	}
	if !onHand.Equal(expected) {
		t.Fatalf("on hand = %s, want %s", onHand.String(), want)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fulfillment-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fulfillment-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=fulfillment_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
