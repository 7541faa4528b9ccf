// Package metrics
package metrics

import (
	"encoding/json"
	"math"
	"time"

	"github.com/amirphl/kline-backtester/internal/order"
)

// Float64 marshals NaN as 0 so result payloads stay valid JSON. Undefined
// ratios (zero volatility, zero drawdown) are NaN in memory; consumers that
// care about the distinction read the struct, not the JSON.
type Float64 float64

func (f Float64) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return []byte(`0`), nil
	}
	return json.Marshal(float64(f))
}

// EquityPoint is one sample of the equity curve, recorded once per candle
// after all of that candle's mutations. Never mutated after creation.
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
	Equity        float64   `json:"equity"`
	EquityRate    float64   `json:"equity_rate"` // equity / initial cash - 1
}

// Result is the full taxonomy of performance and risk statistics computed
// from the closed trade ledger and the equity curve. Ratio fields are NaN
// when their denominator is undefined.
type Result struct {
	TotalTrades     int     `json:"total_trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         Float64 `json:"win_rate"`
	TotalProfit     float64 `json:"total_profit"`
	TotalCommission float64 `json:"total_commission"`

	APR              Float64 `json:"apr"`
	CumulativeReturn Float64 `json:"cumulative_return"`
	MaxDrawdown      Float64 `json:"max_drawdown"` // negative percentage
	Volatility       Float64 `json:"volatility"`   // annualized, percent
	Sharpe           Float64 `json:"sharpe"`
	Sortino          Float64 `json:"sortino"`
	Calmar           Float64 `json:"calmar"`
	MAR              Float64 `json:"mar"`

	ProfitFactor   Float64 `json:"profit_factor"`
	PayoffRatio    Float64 `json:"payoff_ratio"`
	TradeFrequency Float64 `json:"trade_frequency"` // closed trades per day
	CostPercentage Float64 `json:"cost_percentage"` // commission / profit

	AvgWin  Float64 `json:"avg_win"`
	AvgLoss Float64 `json:"avg_loss"`
}

// Partial is the per-strategy breakdown of a multi-strategy run. Tracked for
// reporting only; it never feeds back into allocation.
type Partial struct {
	StrategyID   string  `json:"strategy_id"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      Float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	Commission   float64 `json:"commission"`
	ProfitFactor Float64 `json:"profit_factor"`
}

// Build computes the full metrics result. Formulas:
//
//	APR        = profit/initial * 365/periodDays * 100
//	CumReturn  = profit/initial * 100
//	MDD        = min over i of (eq[i]-peak[i])/peak[i] * 100   (peak = running max)
//	Volatility = stdev(per-period equity returns) * sqrt(periods per year) * 100
//	Sharpe     = (APR - riskFree) / Volatility
//	Sortino    = (APR - riskFree) / downside deviation (annualized)
//	Calmar     = APR / |MDD|
//	MAR        = CumReturn / |MDD|
//
// riskFreeRate is an annual percentage. Zero denominators produce NaN, never
// a panic; an empty ledger or curve yields a zeroed result.
func Build(closed []*order.Order, curve []EquityPoint, initialCash, periodDays, riskFreeRate float64) Result {
	res := Result{
		WinRate:          Float64(math.NaN()),
		APR:              Float64(math.NaN()),
		CumulativeReturn: Float64(math.NaN()),
		MaxDrawdown:      0,
		Volatility:       Float64(math.NaN()),
		Sharpe:           Float64(math.NaN()),
		Sortino:          Float64(math.NaN()),
		Calmar:           Float64(math.NaN()),
		MAR:              Float64(math.NaN()),
		ProfitFactor:     Float64(math.NaN()),
		PayoffRatio:      Float64(math.NaN()),
		TradeFrequency:   Float64(math.NaN()),
		CostPercentage:   Float64(math.NaN()),
		AvgWin:           Float64(math.NaN()),
		AvgLoss:          Float64(math.NaN()),
	}

	var grossProfit, grossLoss float64
	for _, o := range closed {
		if o.Status != order.Closed {
			continue
		}
		res.TotalTrades++
		res.TotalProfit += o.RealizedPnL
		res.TotalCommission += o.OpenCommission + o.CloseCommission
		if o.RealizedPnL > 0 {
			res.Wins++
			grossProfit += o.RealizedPnL
		} else {
			res.Losses++
			grossLoss += o.RealizedPnL
		}
	}

	if res.TotalTrades > 0 {
		res.WinRate = Float64(float64(res.Wins) / float64(res.TotalTrades) * 100)
	}
	if res.Wins > 0 {
		res.AvgWin = Float64(grossProfit / float64(res.Wins))
	}
	if res.Losses > 0 {
		res.AvgLoss = Float64(grossLoss / float64(res.Losses))
	}
	if grossLoss != 0 {
		res.ProfitFactor = Float64(grossProfit / math.Abs(grossLoss))
	}
	if res.Losses > 0 && res.AvgLoss != 0 && res.Wins > 0 {
		res.PayoffRatio = Float64(float64(res.AvgWin) / math.Abs(float64(res.AvgLoss)))
	}
	if periodDays > 0 {
		res.TradeFrequency = Float64(float64(res.TotalTrades) / periodDays)
	}
	if res.TotalProfit != 0 {
		res.CostPercentage = Float64(res.TotalCommission / res.TotalProfit * 100)
	}

	if initialCash > 0 {
		res.CumulativeReturn = Float64(res.TotalProfit / initialCash * 100)
		if periodDays > 0 {
			res.APR = Float64(res.TotalProfit / initialCash * (365 / periodDays) * 100)
		}
	}

	res.MaxDrawdown = Float64(MaxDrawdown(curve))

	vol, downside := annualizedVolatility(curve, periodDays)
	res.Volatility = Float64(vol)

	apr := float64(res.APR)
	if !math.IsNaN(apr) {
		if vol > 0 {
			res.Sharpe = Float64((apr - riskFreeRate) / vol)
		}
		if downside > 0 {
			res.Sortino = Float64((apr - riskFreeRate) / downside)
		}
		if mdd := math.Abs(float64(res.MaxDrawdown)); mdd > 0 {
			res.Calmar = Float64(apr / mdd)
			res.MAR = Float64(float64(res.CumulativeReturn) / mdd)
		}
	}

	return res
}

// MaxDrawdown returns the deepest percentage decline from a running equity
// peak, as a negative number. Measured against the running maximum, not the
// initial equity. Zero for curves that never decline.
func MaxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	worst := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (p.Equity - peak) / peak * 100
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// annualizedVolatility returns total and downside deviation of per-period
// equity returns, annualized and expressed in percent. Both are 0 when the
// curve is too short.
func annualizedVolatility(curve []EquityPoint, periodDays float64) (vol, downside float64) {
	if len(curve) < 2 || periodDays <= 0 {
		return 0, 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Equity == 0 {
			continue
		}
		returns = append(returns, curve[i].Equity/curve[i-1].Equity-1)
	}
	if len(returns) < 2 {
		return 0, 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance, downVariance float64
	downCount := 0
	for _, r := range returns {
		d := r - mean
		variance += d * d
		if r < 0 {
			downVariance += r * r
			downCount++
		}
	}
	variance /= float64(len(returns))

	periodsPerYear := float64(len(returns)) / periodDays * 365

	vol = math.Sqrt(variance) * math.Sqrt(periodsPerYear) * 100
	if downCount > 0 {
		downside = math.Sqrt(downVariance/float64(len(returns))) * math.Sqrt(periodsPerYear) * 100
	}
	return vol, downside
}

// BuildPartials groups the closed ledger by strategy id, preserving first-seen
// order of strategies.
func BuildPartials(closed []*order.Order) map[string]Partial {
	out := make(map[string]Partial)
	var grossProfit = make(map[string]float64)
	var grossLoss = make(map[string]float64)

	for _, o := range closed {
		if o.Status != order.Closed {
			continue
		}
		p := out[o.StrategyID]
		p.StrategyID = o.StrategyID
		p.Trades++
		p.TotalPnL += o.RealizedPnL
		p.Commission += o.OpenCommission + o.CloseCommission
		if o.RealizedPnL > 0 {
			p.Wins++
			grossProfit[o.StrategyID] += o.RealizedPnL
		} else {
			p.Losses++
			grossLoss[o.StrategyID] += o.RealizedPnL
		}
		out[o.StrategyID] = p
	}

	for id, p := range out {
		if p.Trades > 0 {
			p.WinRate = Float64(float64(p.Wins) / float64(p.Trades) * 100)
		} else {
			p.WinRate = Float64(math.NaN())
		}
		if loss := grossLoss[id]; loss != 0 {
			p.ProfitFactor = Float64(grossProfit[id] / math.Abs(loss))
		} else {
			p.ProfitFactor = Float64(math.NaN())
		}
		out[id] = p
	}
	return out
}
