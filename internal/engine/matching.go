// Package engine implements limit order fill matching against candle ranges.
package engine

import (
	"time"

	"github.com/amirphl/kline-backtester/internal/candle"
	"github.com/amirphl/kline-backtester/internal/order"
)

// FillEvent records one order filling during a candle.
type FillEvent struct {
	OrderID   string
	FillPrice float64
	FillIndex int
	FillTime  time.Time
}

// Match scans the pending orders against one candle and reports which fill
// and at what price. Rules:
//
//   - An order may fill no earlier than its ValidFromIndex; a limit quoted off
//     candle t rests from t+1. This is the no-lookahead rule.
//   - A buy fills when c.Low <= limit, a sell when c.High >= limit, boundary
//     touches included. Fills happen exactly at the limit price: the order is
//     a resting quote, not a market sweep.
//   - Sells are matched before buys. When both sides could fill inside the
//     same bar this avoids manufacturing a same-candle round trip; it is a
//     documented deterministic tie-break, not a path simulation.
//   - No partial fills. Within each side, orders match in slice order, which
//     the execution loop keeps equal to creation order.
//
// Match only reports fills; the caller transitions order state so that
// allocation and state changes stay in one place.
func Match(pending []*order.Order, c candle.Candle, index int) []FillEvent {
	var fills []FillEvent

	for _, o := range pending {
		if o.Status != order.Pending || o.Side != order.Sell {
			continue
		}
		if index < o.ValidFromIndex {
			continue
		}
		if c.High >= o.LimitPrice {
			fills = append(fills, FillEvent{
				OrderID:   o.ID,
				FillPrice: o.LimitPrice,
				FillIndex: index,
				FillTime:  c.Timestamp,
			})
		}
	}

	for _, o := range pending {
		if o.Status != order.Pending || o.Side != order.Buy {
			continue
		}
		if index < o.ValidFromIndex {
			continue
		}
		if c.Low <= o.LimitPrice {
			fills = append(fills, FillEvent{
				OrderID:   o.ID,
				FillPrice: o.LimitPrice,
				FillIndex: index,
				FillTime:  c.Timestamp,
			})
		}
	}

	return fills
}
