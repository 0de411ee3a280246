package backtest

import (
	"context"
	"errors"
	"slices"

	"github.com/amirphl/quant-signals/internal/candle"
)

// UniverseResults holds the replay of several instruments.
type UniverseResults struct {
	Results        map[string]Results `json:"results"`
	OverallMetrics map[string]float64 `json:"overall_metrics"`
	Successful     int                `json:"successful"`
	Failed         int                `json:"failed"`
}

// RunUniverse replays every instrument in data. Instruments without usable
// series are counted as failed; a cancelled context stops the run.
func (r *Replayer) RunUniverse(ctx context.Context, data map[string]map[string]*candle.Series) (UniverseResults, error) {
	out := UniverseResults{Results: map[string]Results{}, OverallMetrics: map[string]float64{}}

	instruments := make([]string, 0, len(data))
	for k := range data {
		instruments = append(instruments, k)
	}
	slices.Sort(instruments)

	for _, instrument := range instruments {
		res, err := r.Run(ctx, instrument, data[instrument])
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, err
		}
		if err != nil {
			out.Failed++
			r.log.Warn().Err(err).Str("instrument", instrument).Msg("replay failed")
			continue
		}
		out.Successful++
		out.Results[instrument] = res
		r.logResults(res)
	}
	calculateOverallMetrics(&out)
	return out, nil
}

func calculateOverallMetrics(u *UniverseResults) {
	var trades, wins, open int
	var totalR, maxDD float64
	for _, res := range u.Results {
		trades += len(res.Trades)
		wins += res.Wins
		open += res.Open
		totalR += res.TotalR
		maxDD = max(maxDD, res.MaxDrawdownR)
	}
	u.OverallMetrics["trades"] = float64(trades)
	u.OverallMetrics["open"] = float64(open)
	u.OverallMetrics["total_r"] = totalR
	u.OverallMetrics["worst_drawdown_r"] = maxDD
	if trades > 0 {
		u.OverallMetrics["win_rate"] = float64(wins) / float64(trades)
		u.OverallMetrics["expectancy_r"] = totalR / float64(trades)
	}
}

func (r *Replayer) logResults(res Results) {
	r.log.Info().
		Str("instrument", res.Instrument).
		Int("trades", len(res.Trades)).
		Int("wins", res.Wins).
		Int("losses", res.Losses).
		Int("breakevens", res.Breakevens).
		Int("open", res.Open).
		Float64("total_r", res.TotalR).
		Float64("max_drawdown_r", res.MaxDrawdownR).
		Float64("win_rate", res.Metrics["win_rate"]).
		Msg("replay finished")
}
