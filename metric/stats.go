package metric

import (
	"math"
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean, zero for an empty sample.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// WinRate returns the fraction of non-negative results.
func WinRate(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	wins := 0
	for _, v := range values {
		if v >= 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(values))
}

// Payoff returns the ratio of average win to average loss.
func Payoff(values []float64) float64 {
	wins, losses := splitResults(values)
	if len(losses) == 0 {
		return 10
	}
	avgLoss := stat.Mean(losses, nil)
	if avgLoss == 0 {
		return 10
	}
	return math.Abs(stat.Mean(wins, nil) / avgLoss)
}

// ProfitFactor returns the ratio of gross profit to gross loss.
func ProfitFactor(values []float64) float64 {
	var grossWin, grossLoss float64
	for _, v := range values {
		if v >= 0 {
			grossWin += v
		} else {
			grossLoss += v
		}
	}
	if grossLoss == 0 {
		return 10
	}
	return math.Abs(grossWin / grossLoss)
}

// Expectancy returns the mean result per trade weighted by win rate,
// the usual winrate*avgWin - lossrate*avgLoss form.
func Expectancy(values []float64) float64 {
	wins, losses := splitResults(values)
	n := float64(len(values))
	if n == 0 {
		return 0
	}
	winPart := float64(len(wins)) / n * Mean(wins)
	lossPart := float64(len(losses)) / n * Mean(losses)
	return winPart - lossPart
}

// MaxDrawdown returns the deepest peak-to-trough fall of the cumulative
// result curve, as a positive number.
func MaxDrawdown(values []float64) float64 {
	var equity, peak, maxDD float64
	for _, v := range values {
		equity += v
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func splitResults(values []float64) (wins, losses []float64) {
	for _, v := range values {
		if v >= 0 {
			wins = append(wins, v)
		} else {
			losses = append(losses, math.Abs(v))
		}
	}
	return wins, losses
}

// ---------------------
// Bootstrap confidence intervals
// ---------------------

// BootstrapInterval is a bootstrap confidence interval for a statistic.
type BootstrapInterval struct {
	Lower  float64
	Upper  float64
	Mean   float64
	StdDev float64
}

// Bootstrap estimates the confidence interval of measure over values by
// resampling with replacement iterations times.
func Bootstrap(values []float64, measure func([]float64) float64, iterations int, confidence float64) BootstrapInterval {
	if len(values) == 0 || iterations <= 0 {
		return BootstrapInterval{}
	}

	estimates := make([]float64, 0, iterations)
	for i := 0; i < iterations; i++ {
		resampled := make([]float64, len(values))
		for j := range resampled {
			resampled[j] = lo.Sample(values)
		}
		estimates = append(estimates, measure(resampled))
	}

	sort.Float64s(estimates)
	tail := (1 - confidence) / 2
	mean, stdDev := stat.MeanStdDev(estimates, nil)

	return BootstrapInterval{
		Lower:  stat.Quantile(tail, stat.LinInterp, estimates, nil),
		Upper:  stat.Quantile(1-tail, stat.LinInterp, estimates, nil),
		Mean:   mean,
		StdDev: stdDev,
	}
}
