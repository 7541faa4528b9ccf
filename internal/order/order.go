// Package order
package order

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Status is the order lifecycle state. Orders only ever move
// Pending -> Filled -> Closed, or Pending -> Cancelled/Expired; terminal
// states are immutable.
type Status int8

const (
	Pending Status = iota
	Filled
	Closed
	Cancelled
	Expired
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Filled:
		return "filled"
	case Closed:
		return "closed"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int8(s))
	}
}

// Direction is the economic exposure of the position.
type Direction int8

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// Side is the action that opens the position, independent of Direction:
// a long opens with a buy, a short opens with a sell.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// ErrInvalidTransition marks a state-machine violation. This is a
// programming-error class: the execution loop's bookkeeping is broken if it
// ever shows up, so callers treat it as fatal rather than recoverable.
var ErrInvalidTransition = errors.New("invalid order state transition")

// Order is the central mutable entity of the engine: one limit order and, once
// filled, the open position it became. The capital manager owns every order it
// sized; the execution loop and matching engine only hold references.
type Order struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Side       Side      `json:"side"`
	Status     Status    `json:"status"`

	LimitPrice float64 `json:"limit_price"`
	FillPrice  float64 `json:"fill_price"`
	ClosePrice float64 `json:"close_price"`
	Quantity   float64 `json:"quantity"`
	Notional   float64 `json:"notional"` // allocated capital, Quantity*FillPrice at fill

	OpenCommission  float64 `json:"open_commission"`
	CloseCommission float64 `json:"close_commission"`
	RealizedPnL     float64 `json:"realized_pnl"`
	PnLRate         float64 `json:"pnl_rate"`

	CreatedIndex   int `json:"created_index"`
	ValidFromIndex int `json:"valid_from_index"` // earliest candle index the order may fill
	FillIndex      int `json:"fill_index"`
	CloseIndex     int `json:"close_index"`

	CreatedAt time.Time `json:"created_at"`
	FilledAt  time.Time `json:"filled_at"`
	ClosedAt  time.Time `json:"closed_at"`

	CloseReason string `json:"close_reason"`
}

// NewLimit creates a pending limit order. A limit order quoted off candle
// createdIndex can fill from createdIndex+1 at the earliest; the matching
// engine enforces ValidFromIndex and this constructor sets it.
//
// The id is a name-based UUID keyed by strategy, symbol and creation index.
// A strategy quotes at most once per candle, so the key is unique within a
// run, and replaying the same configuration yields the same ledger.
func NewLimit(strategyID, symbol string, direction Direction, limitPrice, notional float64, createdIndex int, createdAt time.Time) *Order {
	side := Buy
	if direction == Short {
		side = Sell
	}
	return &Order{
		ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte(strategyID+"/"+symbol+"/"+strconv.Itoa(createdIndex))).String(),
		StrategyID:     strategyID,
		Symbol:         symbol,
		Direction:      direction,
		Side:           side,
		Status:         Pending,
		LimitPrice:     limitPrice,
		Notional:       notional,
		CreatedIndex:   createdIndex,
		ValidFromIndex: createdIndex + 1,
		FillIndex:      -1,
		CloseIndex:     -1,
		CreatedAt:      createdAt,
	}
}

// Fill transitions Pending -> Filled at price, deducting the open commission
// from the allocated notional. Quantity is derived so that
// Quantity*FillPrice equals the notional net of commission.
func (o *Order) Fill(price float64, index int, at time.Time, commissionRate float64) error {
	if o.Status != Pending {
		return fmt.Errorf("fill order %s in status %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	if price <= 0 {
		return fmt.Errorf("fill order %s at non-positive price %v: %w", o.ID, price, ErrInvalidTransition)
	}

	o.OpenCommission = o.Notional * commissionRate
	o.Quantity = (o.Notional - o.OpenCommission) / price
	o.FillPrice = price
	o.FillIndex = index
	o.FilledAt = at
	o.Status = Filled
	return nil
}

// Close transitions Filled -> Closed, finalizing PnL and commission. The
// caller releases capital with the returned realized PnL; calling Close twice
// for the same order is the invalid-transition bug class.
func (o *Order) Close(price float64, index int, at time.Time, commissionRate float64, reason string) error {
	if o.Status != Filled {
		return fmt.Errorf("close order %s in status %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	if price <= 0 {
		return fmt.Errorf("close order %s at non-positive price %v: %w", o.ID, price, ErrInvalidTransition)
	}

	o.CloseCommission = o.Quantity * price * commissionRate

	var gross float64
	if o.Direction == Short {
		gross = (o.FillPrice - price) * o.Quantity
	} else {
		gross = (price - o.FillPrice) * o.Quantity
	}

	o.ClosePrice = price
	o.CloseIndex = index
	o.ClosedAt = at
	o.CloseReason = reason
	o.RealizedPnL = gross - o.OpenCommission - o.CloseCommission
	if o.Notional > 0 {
		o.PnLRate = o.RealizedPnL / o.Notional
	}
	o.Status = Closed
	return nil
}

// Cancel transitions Pending -> Cancelled. Used by re-quoting strategies that
// replace a stale unfilled order each candle; the caller releases the frozen
// capital atomically with this call.
func (o *Order) Cancel() error {
	if o.Status != Pending {
		return fmt.Errorf("cancel order %s in status %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	o.Status = Cancelled
	return nil
}

// Expire transitions Pending -> Expired. Same rules as Cancel; kept separate
// so the ledger distinguishes a deliberate re-quote from an end-of-run sweep.
func (o *Order) Expire() error {
	if o.Status != Pending {
		return fmt.Errorf("expire order %s in status %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	o.Status = Expired
	return nil
}

// IsTerminal reports whether the order reached an immutable state.
func (o *Order) IsTerminal() bool {
	return o.Status == Closed || o.Status == Cancelled || o.Status == Expired
}

// UnrealizedPnL values an open position against price, before close
// commission. Zero for anything not currently filled.
func (o *Order) UnrealizedPnL(price float64) float64 {
	if o.Status != Filled {
		return 0
	}
	if o.Direction == Short {
		return (o.FillPrice - price) * o.Quantity
	}
	return (price - o.FillPrice) * o.Quantity
}
