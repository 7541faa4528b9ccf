package backtest

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/amirphl/kline-backtester/internal/capital"
	"github.com/amirphl/kline-backtester/internal/journal"
	"github.com/amirphl/kline-backtester/internal/metrics"
	"github.com/amirphl/kline-backtester/internal/order"
)

// Diagnostics counts the expected, non-error skip conditions of a run so a
// caller can judge how much signal the capital pool actually absorbed.
type Diagnostics struct {
	SkippedInsufficientCapital int      `json:"skipped_insufficient_capital"`
	SkippedPositionCeiling     int      `json:"skipped_position_ceiling"`
	SkippedZeroSize            int      `json:"skipped_zero_size"`
	StrategyErrors             int      `json:"strategy_errors"`
	DataWarnings               []string `json:"data_warnings,omitempty"`
}

// Result is the full output contract of a run: the complete order ledger
// (every order ever created, terminal states included), the dense equity
// curve, the metrics taxonomy and the per-strategy breakdown. Persistence of
// any of it is the caller's concern.
type Result struct {
	Orders      []*order.Order             `json:"orders"`
	EquityCurve []metrics.EquityPoint      `json:"equity_curve"`
	Metrics     metrics.Result             `json:"metrics"`
	PerStrategy map[string]metrics.Partial `json:"per_strategy"`
	Diagnostics Diagnostics                `json:"diagnostics"`
	FinalPool   capital.Pool               `json:"final_pool"`
	Events      []journal.Event            `json:"-"`
}

// SaveCSV writes the trade ledger and equity curve next to each other as CSV
// files for spreadsheet inspection.
func (r *Result) SaveCSV(tradesPath, equityPath string) error {
	tradeRows := [][]string{{
		"Order", "Strategy", "Direction", "Status", "Limit", "Fill", "Close",
		"Quantity", "Notional", "PnL", "Commission", "Reason", "FilledAt", "ClosedAt",
	}}
	for _, o := range r.Orders {
		tradeRows = append(tradeRows, []string{
			o.ID,
			o.StrategyID,
			o.Direction.String(),
			o.Status.String(),
			fmt.Sprintf("%.8f", o.LimitPrice),
			fmt.Sprintf("%.8f", o.FillPrice),
			fmt.Sprintf("%.8f", o.ClosePrice),
			fmt.Sprintf("%.8f", o.Quantity),
			fmt.Sprintf("%.2f", o.Notional),
			fmt.Sprintf("%.2f", o.RealizedPnL),
			fmt.Sprintf("%.4f", o.OpenCommission+o.CloseCommission),
			o.CloseReason,
			formatTime(o.FilledAt),
			formatTime(o.ClosedAt),
		})
	}

	equityRows := [][]string{{"Timestamp", "Cash", "PositionValue", "Equity", "EquityRate"}}
	for _, p := range r.EquityCurve {
		equityRows = append(equityRows, []string{
			p.Timestamp.Format(time.RFC3339),
			fmt.Sprintf("%.2f", p.Cash),
			fmt.Sprintf("%.2f", p.PositionValue),
			fmt.Sprintf("%.2f", p.Equity),
			fmt.Sprintf("%.6f", p.EquityRate),
		})
	}

	if err := saveCSV(tradesPath, tradeRows); err != nil {
		return err
	}
	return saveCSV(equityPath, equityRows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// saveCSV saves data to a CSV file
func saveCSV(filename string, rows [][]string) error {
	f, err := os.Create(filename)
	if err != nil {
		log.Printf("saveCSV | Error creating %s: %v", filename, err)
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			log.Printf("saveCSV | Error writing to %s: %v", filename, err)
			return err
		}
	}

	log.Printf("saveCSV | Saved results to %s", filename)
	return nil
}

// Print logs a human-readable summary the way the CLI reports a finished run.
func (r *Result) Print() {
	m := r.Metrics
	log.Printf("Backtest Results:")
	log.Printf("  Trades=%d, Wins=%d, Losses=%d, WinRate=%.2f%%",
		m.TotalTrades, m.Wins, m.Losses, float64(m.WinRate))
	log.Printf("  TotalProfit=%.2f, Commission=%.2f, FinalEquity=%.2f",
		m.TotalProfit, m.TotalCommission, r.FinalPool.Total)
	log.Printf("  APR=%.2f%%, CumReturn=%.2f%%, MDD=%.2f%%",
		float64(m.APR), float64(m.CumulativeReturn), float64(m.MaxDrawdown))
	log.Printf("  Sharpe=%.2f, Sortino=%.2f, Calmar=%.2f, MAR=%.2f",
		float64(m.Sharpe), float64(m.Sortino), float64(m.Calmar), float64(m.MAR))
	log.Printf("  ProfitFactor=%.2f, PayoffRatio=%.2f, TradeFreq=%.3f/day",
		float64(m.ProfitFactor), float64(m.PayoffRatio), float64(m.TradeFrequency))
	log.Printf("  Skips: capital=%d, ceiling=%d, zero-size=%d, strategy-errors=%d",
		r.Diagnostics.SkippedInsufficientCapital, r.Diagnostics.SkippedPositionCeiling,
		r.Diagnostics.SkippedZeroSize, r.Diagnostics.StrategyErrors)

	for id, p := range r.PerStrategy {
		log.Printf("  [%s] trades=%d winrate=%.2f%% pnl=%.2f",
			id, p.Trades, float64(p.WinRate), p.TotalPnL)
	}
}
