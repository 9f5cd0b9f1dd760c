package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
)

var umarble = asset.Denom{Kind: asset.Native, Value: "umarble"}

func TestMemoryDeliverMovesFundsAndItems(t *testing.T) {
	gw := NewMemory()
	gw.Credit(SourceAccount, umarble, 100)
	gw.SetItemOwner(7, SourceAccount)

	batch := Batch{ID: "b1", Intents: []Intent{
		ItemIntent("buyer", 7),
		FundsIntent("owner", umarble, 2),
		FundsIntent("seller", umarble, 98),
	}}
	if err := gw.Deliver(context.Background(), batch); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if holder, _ := gw.ItemOwner(7); holder != "buyer" {
		t.Fatalf("expected buyer to own item 7, got %s", holder)
	}
	for holder, want := range map[string]uint64{"owner": 2, "seller": 98, SourceAccount: 0} {
		got, err := gw.Balance(context.Background(), holder, umarble)
		if err != nil {
			t.Fatalf("Balance(%s): %v", holder, err)
		}
		if got != want {
			t.Fatalf("balance of %s: expected %d, got %d", holder, want, got)
		}
	}
}

func TestMemoryDeliverIsAllOrNothing(t *testing.T) {
	gw := NewMemory()
	gw.Credit(SourceAccount, umarble, 50)
	gw.SetItemOwner(7, SourceAccount)

	// The second intent overdraws, so the first two must roll back.
	batch := Batch{ID: "b1", Intents: []Intent{
		ItemIntent("buyer", 7),
		FundsIntent("seller", umarble, 40),
		FundsIntent("owner", umarble, 40),
	}}
	if err := gw.Deliver(context.Background(), batch); err == nil {
		t.Fatal("expected overdraw to fail the batch")
	}

	if holder, _ := gw.ItemOwner(7); holder != SourceAccount {
		t.Fatalf("item transfer must roll back, owner is %s", holder)
	}
	got, _ := gw.Balance(context.Background(), SourceAccount, umarble)
	if got != 50 {
		t.Fatalf("escrow must keep 50 after rollback, got %d", got)
	}
	if sellerBal, _ := gw.Balance(context.Background(), "seller", umarble); sellerBal != 0 {
		t.Fatalf("seller must receive nothing after rollback, got %d", sellerBal)
	}
}

type journalStub struct {
	mu      sync.Mutex
	pending []Batch
}

func (j *journalStub) ListPendingIntentBatches(context.Context, int) ([]Batch, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Batch, len(j.pending))
	copy(out, j.pending)
	return out, nil
}

func (j *journalStub) MarkIntentBatchDelivered(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	remaining := j.pending[:0:0]
	for _, b := range j.pending {
		if b.ID != id {
			remaining = append(remaining, b)
		}
	}
	j.pending = remaining
	return nil
}

func (j *journalStub) pendingCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func TestDispatcherDrainsJournal(t *testing.T) {
	gw := NewMemory()
	gw.Credit(SourceAccount, umarble, 100)
	journal := &journalStub{pending: []Batch{
		{ID: "b1", Intents: []Intent{FundsIntent("alice", umarble, 30)}},
		{ID: "b2", Intents: []Intent{FundsIntent("bob", umarble, 20)}},
	}}

	d := NewDispatcher(journal, gw, 10*time.Millisecond, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bal, _ := gw.Balance(context.Background(), "bob", umarble); bal == 20 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if bal, _ := gw.Balance(context.Background(), "alice", umarble); bal != 30 {
		t.Fatalf("expected alice to receive 30, got %d", bal)
	}
	if bal, _ := gw.Balance(context.Background(), "bob", umarble); bal != 20 {
		t.Fatalf("expected bob to receive 20, got %d", bal)
	}
	if journal.pendingCount() != 0 {
		t.Fatalf("expected empty journal, got %d pending", journal.pendingCount())
	}
}
