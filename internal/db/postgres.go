package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/amirphl/quant-signals/internal/config"
	"github.com/amirphl/quant-signals/internal/db/conf"
	"github.com/amirphl/quant-signals/internal/journal"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction runs fn in the context transaction, or in a new one
// that is committed on success and rolled back on error.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

type Default struct {
	db *sql.DB
}

func New(c conf.Config) (*Default, error) {
	if c.DB == nil {
		return nil, errors.New("nil database handle")
	}
	return &Default{db: c.DB}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

// -------- SignalStore --------

const signalColumns = `id, created_at, instrument, direction, entry_price, stop, target0, target1, target2,
	reasoning, timeframe_label, confidence, strategy_id, strategy_type, quality_score, regime_label,
	expected_hold, risk_details, score_details, result_state, max_target_reached, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(r rowScanner) (signal.Signal, error) {
	var (
		s          signal.Signal
		riskJSON   []byte
		scoreJSON  []byte
		closedAt   sql.NullTime
		direction  string
		resultStat string
	)
	err := r.Scan(&s.ID, &s.CreatedAt, &s.Instrument, &direction, &s.EntryPrice, &s.Stop,
		&s.Targets[0], &s.Targets[1], &s.Targets[2], &s.Reasoning, &s.TimeframeLabel, &s.Confidence,
		&s.StrategyID, &s.StrategyType, &s.QualityScore, &s.RegimeLabel, &s.ExpectedHold,
		&riskJSON, &scoreJSON, &resultStat, &s.MaxTargetReached, &closedAt)
	if err != nil {
		return s, err
	}
	s.Direction = signal.Direction(direction)
	s.ResultState = signal.ResultState(resultStat)
	s.CreatedAt = s.CreatedAt.UTC()
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		s.ClosedAt = &t
	}
	if len(riskJSON) > 0 {
		if err := json.Unmarshal(riskJSON, &s.Risk); err != nil {
			return s, fmt.Errorf("decode risk_details of %d: %w", s.ID, err)
		}
	}
	if len(scoreJSON) > 0 {
		if err := json.Unmarshal(scoreJSON, &s.ScoreDetails); err != nil {
			return s, fmt.Errorf("decode score_details of %d: %w", s.ID, err)
		}
	}
	return s, nil
}

func (p *Default) InsertSignal(ctx context.Context, s *signal.Signal) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	riskJSON, err := json.Marshal(s.Risk)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal risk_details: %w", err)
	}
	scores := s.ScoreDetails
	if scores == nil {
		scores = map[string]float64{}
	}
	scoreJSON, err := json.Marshal(scores)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal score_details: %w", err)
	}

	var id int64
	err = p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO signals (
				created_at, instrument, direction, entry_price, stop, target0, target1, target2,
				reasoning, timeframe_label, confidence, strategy_id, strategy_type, quality_score,
				regime_label, expected_hold, risk_details, score_details, result_state, max_target_reached
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,'OPEN',0)
			RETURNING id`,
			s.CreatedAt.UTC(), s.Instrument, string(s.Direction), s.EntryPrice, s.Stop,
			s.Targets[0], s.Targets[1], s.Targets[2], s.Reasoning, s.TimeframeLabel, s.Confidence,
			s.StrategyID, s.StrategyType, s.QualityScore, s.RegimeLabel, s.ExpectedHold,
			riskJSON, scoreJSON).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert signal [%s %s]: %w", s.StrategyID, s.Instrument, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.ID = id
	s.ResultState = signal.StateOpen
	s.MaxTargetReached = 0
	s.ClosedAt = nil
	return id, nil
}

func (p *Default) GetSignal(ctx context.Context, id int64) (*signal.Signal, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT `+signalColumns+` FROM signals WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	s, err := scanSignal(rows)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Default) OpenSignals(ctx context.Context) ([]signal.Signal, error) {
	return p.listSignals(ctx, `SELECT `+signalColumns+` FROM signals WHERE result_state='OPEN' ORDER BY id ASC`)
}

func (p *Default) RecentSignals(ctx context.Context, limit int) ([]signal.Signal, error) {
	return p.listSignals(ctx, `SELECT `+signalColumns+` FROM signals ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
}

func (p *Default) listSignals(ctx context.Context, query string, args ...any) ([]signal.Signal, error) {
	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []signal.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Default) UpdateProgress(ctx context.Context, id int64, state signal.ResultState, maxTarget int, closedAt *time.Time) error {
	if maxTarget < 0 || maxTarget > 3 {
		return fmt.Errorf("max target %d out of range", maxTarget)
	}
	var closed any
	if closedAt != nil {
		closed = closedAt.UTC()
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE signals SET result_state=$2, max_target_reached=$3, closed_at=$4
			WHERE id=$1 AND result_state='OPEN' AND max_target_reached <= $3`,
			id, string(state), maxTarget, closed)
		if err != nil {
			return fmt.Errorf("failed to update signal %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RecentResolved returns the newest closed signals as trades.
func (p *Default) RecentResolved(ctx context.Context, limit int) ([]risk.Trade, error) {
	return p.trades(ctx, `SELECT `+signalColumns+` FROM signals
		WHERE result_state IN ('SL','TP3') AND closed_at IS NOT NULL
		ORDER BY closed_at DESC, id DESC LIMIT $1`, limit)
}

// RecentDecided is RecentResolved without stops hit after a target.
func (p *Default) RecentDecided(ctx context.Context, limit int) ([]risk.Trade, error) {
	return p.trades(ctx, `SELECT `+signalColumns+` FROM signals
		WHERE (result_state = 'TP3' OR (result_state = 'SL' AND max_target_reached = 0))
		AND closed_at IS NOT NULL
		ORDER BY closed_at DESC, id DESC LIMIT $1`, limit)
}

func (p *Default) trades(ctx context.Context, query string, limit int) ([]risk.Trade, error) {
	signals, err := p.listSignals(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	trades := make([]risk.Trade, 0, len(signals))
	for _, s := range signals {
		if t, ok := risk.OutcomeOf(s); ok {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

// -------- ConfigStore --------

func (p *Default) RuntimeEntries(ctx context.Context) ([]config.Entry, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT key, value, type FROM system_config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []config.Entry
	for rows.Next() {
		var e config.Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Type); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Default) SetRuntime(ctx context.Context, e config.Entry) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO system_config (key, value, type, updated_at) VALUES ($1,$2,$3,now())
			ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, type=EXCLUDED.type, updated_at=now()`,
			e.Key, e.Value, e.Type)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", e.Key, err)
		}
		return nil
	})
}

// SeedRuntime inserts entries whose keys are absent. Existing values win.
func (p *Default) SeedRuntime(ctx context.Context, entries []config.Entry) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO system_config (key, value, type, updated_at) VALUES ($1,$2,$3,now())
				ON CONFLICT (key) DO NOTHING`, e.Key, e.Value, e.Type); err != nil {
				return fmt.Errorf("failed to seed %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

// -------- SubscriberStore --------

func (p *Default) SaveSubscriber(ctx context.Context, s Subscriber) error {
	var expires any
	if s.ExpiresAt != nil {
		expires = s.ExpiresAt.UTC()
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subscribers (chat_id, name, balance, risk_percent, max_concurrent_trades, instruments, is_active, expires_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (chat_id) DO UPDATE SET
				name=EXCLUDED.name, balance=EXCLUDED.balance, risk_percent=EXCLUDED.risk_percent,
				max_concurrent_trades=EXCLUDED.max_concurrent_trades, instruments=EXCLUDED.instruments,
				is_active=EXCLUDED.is_active, expires_at=EXCLUDED.expires_at`,
			s.ChatID, s.Name, s.Balance, s.RiskPercent, s.MaxConcurrentTrades,
			pq.Array(s.Instruments), s.Active, expires)
		if err != nil {
			return fmt.Errorf("failed to save subscriber %s: %w", s.ChatID, err)
		}
		return nil
	})
}

func (p *Default) ActiveSubscribers(ctx context.Context, now time.Time) ([]Subscriber, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT chat_id, name, balance, risk_percent, max_concurrent_trades, instruments, is_active, expires_at
		FROM subscribers WHERE is_active AND (expires_at IS NULL OR expires_at > $1)
		ORDER BY chat_id`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscriber
	for rows.Next() {
		var (
			s       Subscriber
			instr   pq.StringArray
			expires sql.NullTime
		)
		if err := rows.Scan(&s.ChatID, &s.Name, &s.Balance, &s.RiskPercent, &s.MaxConcurrentTrades,
			&instr, &s.Active, &expires); err != nil {
			return nil, err
		}
		s.Instruments = []string(instr)
		if expires.Valid {
			t := expires.Time.UTC()
			s.ExpiresAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// -------- Journaler --------

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time.UTC(), event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT time, type, description, data FROM events WHERE type=$1 AND time >= $2 AND time <= $3 ORDER BY time ASC, id ASC`, eventType, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &e.Data)
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
