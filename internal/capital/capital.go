// Package capital
package capital

import (
	"errors"
	"fmt"
)

// ErrInsufficientCapital signals an allocation that the pool cannot cover.
// This is an expected skip condition during a run, not a failure: the caller
// counts it and drops the signal.
var ErrInsufficientCapital = errors.New("insufficient available capital")

// Pool is the shared account balance every strategy draws from. All mutation
// goes through Manager; nothing else writes these fields. Invariant:
// available + frozen <= total, and total only moves by realized PnL.
type Pool struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Frozen    float64 `json:"frozen"`
}

// Manager coordinates capital across strategies inside a single candle.
// Allocations are processed one at a time in signal order, each checked
// against the pool as mutated by the allocations before it; there is no
// snapshot-then-write anywhere.
type Manager struct {
	pool         Pool
	maxPositions int
}

// NewManager creates a manager over a fresh pool. initialCash must be
// positive and maxPositions at least 1; the config layer validates both
// before a run starts.
func NewManager(initialCash float64, maxPositions int) *Manager {
	return &Manager{
		pool: Pool{
			Total:     initialCash,
			Available: initialCash,
		},
		maxPositions: maxPositions,
	}
}

// Snapshot returns a copy of the pool state.
func (m *Manager) Snapshot() Pool { return m.pool }

// MaxPositions returns the global position ceiling shared by all strategies.
func (m *Manager) MaxPositions() int { return m.maxPositions }

// Allocate atomically moves amount from available to frozen. Fails with
// ErrInsufficientCapital when the pool cannot cover it.
func (m *Manager) Allocate(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("allocate non-positive amount %v", amount)
	}
	if m.pool.Available < amount {
		return fmt.Errorf("allocate %v with %v available: %w", amount, m.pool.Available, ErrInsufficientCapital)
	}
	m.pool.Available -= amount
	m.pool.Frozen += amount
	m.checkInvariant()
	return nil
}

// Release atomically moves amount from frozen back to available and applies
// realizedPnL to the pool total. Must be called exactly once per order close
// or cancellation; the execution loop guards double release through the order
// state machine.
func (m *Manager) Release(amount, realizedPnL float64) {
	if amount < 0 {
		panic(fmt.Sprintf("capital: release of negative amount %v", amount))
	}
	if m.pool.Frozen+1e-9 < amount {
		panic(fmt.Sprintf("capital: release %v exceeds frozen %v", amount, m.pool.Frozen))
	}
	m.pool.Frozen -= amount
	m.pool.Available += amount + realizedPnL
	m.pool.Total += realizedPnL
	m.checkInvariant()
}

// CanOpenPosition is the global ceiling check. When it returns false every
// strategy sharing the pool sits out this candle's entries.
func (m *Manager) CanOpenPosition(currentOpen int) bool {
	return currentOpen < m.maxPositions
}

// PositionSize returns the notional for the next order under dynamic sizing:
// available cash spread evenly over the remaining position slots, recomputed
// fresh on every call. Profits compound into larger positions and losses
// shrink them; both are intended properties. Returns 0 (skip the order) when
// no cash or no slot is left.
func (m *Manager) PositionSize(currentOpen int) float64 {
	if currentOpen >= m.maxPositions {
		return 0
	}
	if m.pool.Available <= 0 {
		return 0
	}
	return m.pool.Available / float64(m.maxPositions-currentOpen)
}

// checkInvariant panics when the pool accounting went inconsistent. A broken
// pool means the engine itself is broken and any further numbers would be
// silently corrupt.
func (m *Manager) checkInvariant() {
	if m.pool.Available+m.pool.Frozen > m.pool.Total+1e-6 {
		panic(fmt.Sprintf("capital: pool invariant violated: available %v + frozen %v > total %v",
			m.pool.Available, m.pool.Frozen, m.pool.Total))
	}
	if m.pool.Frozen < -1e-9 {
		panic(fmt.Sprintf("capital: negative frozen balance %v", m.pool.Frozen))
	}
}
