package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
)

// Memory is an in-process gateway backed by simple balance and ownership
// maps. It is used in tests and in local single-node deployments where no
// external custodian exists.
type Memory struct {
	mu    sync.RWMutex
	funds map[string]map[string]uint64 // holder -> denom -> amount
	items map[uint64]string            // item id -> holder
}

var (
	_ Deliverer     = (*Memory)(nil)
	_ BalanceReader = (*Memory)(nil)
)

// NewMemory returns an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		funds: make(map[string]map[string]uint64),
		items: make(map[uint64]string),
	}
}

// Credit adds funds to a holder, for seeding pools and test fixtures.
func (m *Memory) Credit(holder string, denom asset.Denom, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(holder, denom, amount)
}

// SetItemOwner records the holder of an item.
func (m *Memory) SetItemOwner(itemID uint64, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemID] = holder
}

// ItemOwner returns the current holder of an item.
func (m *Memory) ItemOwner(itemID uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	holder, ok := m.items[itemID]
	return holder, ok
}

// Balance returns the holder's balance for a denom.
func (m *Memory) Balance(_ context.Context, holder string, denom asset.Denom) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.funds[holder][denom.String()], nil
}

// Deliver applies every intent in the batch or none of them. Fund intents
// draw from the source account; item intents reassign ownership.
func (m *Memory) Deliver(_ context.Context, batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fundsBackup := cloneFunds(m.funds)
	itemsBackup := cloneItems(m.items)

	for i, intent := range batch.Intents {
		if err := m.apply(intent); err != nil {
			m.funds = fundsBackup
			m.items = itemsBackup
			return fmt.Errorf("intent %d of batch %s: %w", i, batch.ID, err)
		}
	}
	return nil
}

// SourceAccount is the account in-memory fund transfers draw from. The
// memory gateway models a single escrow pot rather than per-party
// custody.
const SourceAccount = "escrow"

func (m *Memory) apply(intent Intent) error {
	switch intent.Kind {
	case IntentTransferFunds:
		if intent.To == "" {
			return fmt.Errorf("fund transfer without recipient")
		}
		key := intent.Denom.String()
		have := m.funds[SourceAccount][key]
		if have < intent.Amount {
			return fmt.Errorf("escrow holds %d %s, need %d", have, key, intent.Amount)
		}
		m.funds[SourceAccount][key] = have - intent.Amount
		m.credit(intent.To, intent.Denom, intent.Amount)
		return nil
	case IntentTransferItem:
		if intent.To == "" {
			return fmt.Errorf("item transfer without recipient")
		}
		m.items[intent.ItemID] = intent.To
		return nil
	default:
		return fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
}

func (m *Memory) credit(holder string, denom asset.Denom, amount uint64) {
	if m.funds[holder] == nil {
		m.funds[holder] = make(map[string]uint64)
	}
	m.funds[holder][denom.String()] += amount
}

func cloneFunds(src map[string]map[string]uint64) map[string]map[string]uint64 {
	out := make(map[string]map[string]uint64, len(src))
	for holder, balances := range src {
		inner := make(map[string]uint64, len(balances))
		for denom, amount := range balances {
			inner[denom] = amount
		}
		out[holder] = inner
	}
	return out
}

func cloneItems(src map[uint64]string) map[uint64]string {
	out := make(map[uint64]string, len(src))
	for id, holder := range src {
		out[id] = holder
	}
	return out
}
