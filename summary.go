package tradewarden

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/olekukonko/tablewriter"

	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/metric"
)

// symbolResults groups closed trades per symbol for the summary table
type symbolResults struct {
	symbol string
	trades []core.TradeResult
}

func (s symbolResults) r() []float64 {
	out := make([]float64, len(s.trades))
	for i, t := range s.trades {
		out[i] = t.R
	}
	return out
}

func (s symbolResults) profit() (total, volume float64) {
	for _, t := range s.trades {
		total += t.Profit
		volume += t.Volume
	}
	return total, volume
}

func (e *Engine) groupedResults() []symbolResults {
	if e.results == nil {
		return nil
	}
	bySymbol := map[string][]core.TradeResult{}
	for _, t := range e.results.Results() {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}
	out := make([]symbolResults, 0, len(bySymbol))
	for symbol, trades := range bySymbol {
		out = append(out, symbolResults{symbol: symbol, trades: trades})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

// SummaryText renders the per-symbol trade table for the command surface
func (e *Engine) SummaryText() string {
	grouped := e.groupedResults()
	if len(grouped) == 0 {
		return "no closed trades yet"
	}
	return renderTable(grouped)
}

// Summary prints the trade table, the R-multiple distribution, and
// bootstrapped confidence intervals to stdout. Raw results stay
// available through the results source.
func (e *Engine) Summary() {
	grouped := e.groupedResults()
	if len(grouped) == 0 {
		fmt.Println("no closed trades yet")
		return
	}

	fmt.Println(renderTable(grouped))

	var returns []float64
	for _, group := range grouped {
		returns = append(returns, group.r()...)
	}

	fmt.Println("------ R MULTIPLES -------")
	hist := histogram.Hist(15, returns)
	histogram.Fprint(os.Stdout, hist, histogram.Linear(10))
	fmt.Println()

	fmt.Println("------ CONFIDENCE INTERVAL (95%) -------")
	for _, group := range grouped {
		fmt.Printf("| %s |\n", group.symbol)
		r := group.r()
		meanInterval := metric.Bootstrap(r, metric.Mean, 10000, 0.95)
		payoffInterval := metric.Bootstrap(r, metric.Payoff, 10000, 0.95)
		profitFactorInterval := metric.Bootstrap(r, metric.ProfitFactor, 10000, 0.95)

		fmt.Printf("MEAN R:      %.2f (%.2f ~ %.2f)\n",
			meanInterval.Mean, meanInterval.Lower, meanInterval.Upper)
		fmt.Printf("PAYOFF:      %.2f (%.2f ~ %.2f)\n",
			payoffInterval.Mean, payoffInterval.Lower, payoffInterval.Upper)
		fmt.Printf("PROF.FACTOR: %.2f (%.2f ~ %.2f)\n",
			profitFactorInterval.Mean, profitFactorInterval.Lower, profitFactorInterval.Upper)
	}
	fmt.Println()
}

func renderTable(grouped []symbolResults) string {
	var (
		totalProfit float64
		totalVolume float64
		wins, loses int
	)
	var allR []float64

	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"Symbol", "Trades", "Win", "Loss", "% Win", "Payoff", "Pr Fact.", "Exp.", "Profit", "Volume"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)

	for _, group := range grouped {
		r := group.r()
		profit, volume := group.profit()
		win := 0
		for _, v := range r {
			if v >= 0 {
				win++
			}
		}
		lose := len(r) - win

		table.Append([]string{
			group.symbol,
			strconv.Itoa(len(r)),
			strconv.Itoa(win),
			strconv.Itoa(lose),
			fmt.Sprintf("%.1f %%", metric.WinRate(r)*100),
			fmt.Sprintf("%.3f", metric.Payoff(r)),
			fmt.Sprintf("%.3f", metric.ProfitFactor(r)),
			fmt.Sprintf("%.2f", metric.Expectancy(r)),
			fmt.Sprintf("%.2f", profit),
			fmt.Sprintf("%.2f", volume),
		})

		totalProfit += profit
		totalVolume += volume
		wins += win
		loses += lose
		allR = append(allR, r...)
	}

	table.SetFooter([]string{
		"TOTAL",
		strconv.Itoa(wins + loses),
		strconv.Itoa(wins),
		strconv.Itoa(loses),
		fmt.Sprintf("%.1f %%", metric.WinRate(allR)*100),
		fmt.Sprintf("%.3f", metric.Payoff(allR)),
		fmt.Sprintf("%.3f", metric.ProfitFactor(allR)),
		fmt.Sprintf("%.2f", metric.Expectancy(allR)),
		fmt.Sprintf("%.2f", totalProfit),
		fmt.Sprintf("%.2f", totalVolume),
	})
	table.Render()
	return buffer.String()
}
