package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/quant-signals/internal/candle"
)

// LoadCSV reads bars with columns timestamp,open,high,low,close[,volume].
// Timestamps are RFC3339 or unix seconds; a header row is skipped.
func LoadCSV(r io.Reader, instrument, timeframe string) (*candle.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []candle.Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp") {
			continue
		}
		c, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c.Symbol, c.Timeframe = instrument, timeframe
		bars = append(bars, c)
	}
	return candle.NewSeries(instrument, timeframe, bars)
}

func parseRow(rec []string) (candle.Candle, error) {
	if len(rec) < 5 {
		return candle.Candle{}, fmt.Errorf("want at least 5 columns, got %d", len(rec))
	}
	ts, err := parseTime(strings.TrimSpace(rec[0]))
	if err != nil {
		return candle.Candle{}, err
	}
	vals := make([]float64, 5)
	for i := 1; i < len(rec) && i <= 5; i++ {
		if vals[i-1], err = strconv.ParseFloat(strings.TrimSpace(rec[i]), 64); err != nil {
			return candle.Candle{}, fmt.Errorf("column %d: %w", i+1, err)
		}
	}
	return candle.Candle{Timestamp: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

func parseTime(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// LoadFile opens path and reads it with LoadCSV.
func LoadFile(path, instrument, timeframe string) (*candle.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f, instrument, timeframe)
}

// SaveCSV writes one row per resolved trade.
func SaveCSV(w io.Writer, results ...Results) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"Instrument", "Strategy", "Direction", "Entry", "Stop", "OpenedAt", "ClosedAt", "State", "MaxTarget", "R"}}
	for _, res := range results {
		for _, t := range res.Trades {
			rows = append(rows, []string{
				res.Instrument,
				t.Strategy,
				string(t.Signal.Direction),
				strconv.FormatFloat(t.Signal.EntryPrice, 'f', 5, 64),
				strconv.FormatFloat(t.Signal.Stop, 'f', 5, 64),
				t.OpenedAt.Format(time.RFC3339),
				t.ClosedAt.Format(time.RFC3339),
				string(t.Signal.ResultState),
				strconv.Itoa(t.Signal.MaxTargetReached),
				strconv.FormatFloat(t.RMultiple, 'f', 2, 64),
			})
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}
	return nil
}
