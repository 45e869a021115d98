package workflow

import (
	"fmt"
	"sync"
	"testing"
)

// NOTE: These tests are intentionally DB-free. They validate the intended
// dispatch semantics:
// - stock-out is at-most-once per (reference, direction, product) via a unique key
// - status flips are compare-and-set, so concurrent transitions have one winner
// - reversal compensates each out row exactly once and never deletes it
//
// Full DB integration coverage lives in the models package behind
// INTEGRATION_TESTS=1 (requires docker).

type fakeLedger struct {
	mu   sync.Mutex
	rows map[string]int // unique key -> signed qty
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]int{}}
}

// insert mimics the uniq_movement index: a second insert with the same key
// reports a duplicate instead of writing.
func (l *fakeLedger) insert(refType string, refId int, movement string, productId int, qty int) bool {
	key := fmt.Sprintf("%s|%d|%s|%d", refType, refId, movement, productId)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.rows[key]; dup {
		return false
	}
	l.rows[key] = qty
	return true
}

func (l *fakeLedger) sum() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, qty := range l.rows {
		total += qty
	}
	return total
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

type fakeChallan struct {
	mu     sync.Mutex
	status string
}

// cas mimics CasChallanStatusTx.
func (c *fakeChallan) cas(from, to string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != from {
		return false
	}
	c.status = to
	return true
}

func TestConcurrentIssueDeductsOnce(t *testing.T) {
	ledger := newFakeLedger()
	challan := &fakeChallan{status: "Draft"}
	products := []int{11, 12, 13}

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !challan.cas("Draft", "Issued") {
				wins <- false
				return
			}
			for _, p := range products {
				ledger.insert("DC", 1, "out", p, -4)
			}
			wins <- true
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one issue winner, got %d", winners)
	}
	if got := ledger.count(); got != len(products) {
		t.Fatalf("expected %d out rows, got %d", len(products), got)
	}
	if got := ledger.sum(); got != -12 {
		t.Fatalf("expected net -12 after issue, got %d", got)
	}
}

func TestRetriedStockOutSkipsDuplicates(t *testing.T) {
	ledger := newFakeLedger()

	// First attempt writes two of three rows, then "crashes".
	ledger.insert("DC", 7, "out", 1, -2)
	ledger.insert("DC", 7, "out", 2, -3)

	// Retry replays all three; only the missing row lands.
	inserted := 0
	for _, p := range []int{1, 2, 3} {
		if ledger.insert("DC", 7, "out", p, -2) {
			inserted++
		}
	}
	if inserted != 1 {
		t.Fatalf("retry should insert only the missing row, inserted %d", inserted)
	}
	if got := ledger.count(); got != 3 {
		t.Fatalf("expected 3 out rows after retry, got %d", got)
	}
}

func TestReversalCompensatesEachOutRowOnce(t *testing.T) {
	ledger := newFakeLedger()
	challan := &fakeChallan{status: "Draft"}

	if !challan.cas("Draft", "Issued") {
		t.Fatal("issue should win from Draft")
	}
	outQty := map[int]int{21: -5, 22: -1}
	for p, q := range outQty {
		ledger.insert("DC", 3, "out", p, q)
	}

	if !challan.cas("Issued", "Cancelled") {
		t.Fatal("cancel should win from Issued")
	}
	// Reversal writes compensating in rows; replaying it changes nothing.
	for attempt := 0; attempt < 3; attempt++ {
		for p, q := range outQty {
			ledger.insert("DC_REVERSAL", 3, "in", p, -q)
		}
	}

	if got := ledger.count(); got != 4 {
		t.Fatalf("expected 2 out + 2 reversal rows, got %d", got)
	}
	if got := ledger.sum(); got != 0 {
		t.Fatalf("expected net zero after reversal, got %d", got)
	}

	// A cancelled challan cannot be issued again.
	if challan.cas("Draft", "Issued") {
		t.Fatal("issue must not win after cancel")
	}
}

func TestTransitionOrderIsEnforced(t *testing.T) {
	challan := &fakeChallan{status: "Draft"}

	if challan.cas("Issued", "Delivered") {
		t.Fatal("deliver must not win from Draft")
	}
	if !challan.cas("Draft", "Issued") {
		t.Fatal("issue should win from Draft")
	}
	if !challan.cas("Issued", "Delivered") {
		t.Fatal("deliver should win from Issued")
	}
	if !challan.cas("Delivered", "Closed") {
		t.Fatal("close should win from Delivered")
	}
	if challan.cas("Draft", "Cancelled") || challan.cas("Issued", "Cancelled") {
		t.Fatal("cancel must not win from Closed")
	}
}

func TestCloseWinsFromAnyLiveStatus(t *testing.T) {
	// close compare-and-sets from whatever live status it observed, so an
	// order can be wrapped up before delivery is ever confirmed
	for _, from := range []string{"Draft", "Issued", "Delivered"} {
		challan := &fakeChallan{status: from}
		if !challan.cas(from, "Closed") {
			t.Fatalf("close should win from %s", from)
		}
		if challan.cas(from, "Closed") {
			t.Fatalf("replayed close must not win again from %s", from)
		}
	}
}
