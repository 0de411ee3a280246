package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amirphl/quant-signals/internal/db"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
)

// Broadcaster sends each subscriber a copy of a signal sized for their own
// balance and risk percent.
type Broadcaster struct {
	out  DirectNotifier
	risk *risk.Manager
	log  zerolog.Logger
}

func NewBroadcaster(out DirectNotifier, rm *risk.Manager, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{out: out, risk: rm, log: log.With().Str("component", "broadcast").Logger()}
}

// Personalize returns s resized for sub.
func (b *Broadcaster) Personalize(ctx context.Context, s *signal.Signal, sub db.Subscriber) *signal.Signal {
	c := *s
	c.Risk = b.risk.CalculateLotSize(ctx, s.Instrument, s.EntryPrice, s.Stop, sub.Balance, sub.RiskPercent)
	c.Risk.Layers = b.risk.CalculateLayers(c.Risk.Lots, s.EntryPrice, s.Stop, s.Direction, s.QualityScore)
	return &c
}

// Broadcast delivers s to every subscriber following its instrument. A
// failed delivery does not stop the others; all failures are joined.
func (b *Broadcaster) Broadcast(ctx context.Context, s *signal.Signal, subs []db.Subscriber) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, sub := range subs {
		if !sub.Wants(s.Instrument) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		p := b.Personalize(ctx, s, sub)
		text := FormatSignal(p)
		if sub.MaxConcurrentTrades > 0 {
			text += fmt.Sprintf("\nYour plan: balance $%.2f, risk %.2f%%, max %d concurrent trades", sub.Balance, sub.RiskPercent, sub.MaxConcurrentTrades)
		}
		if err := b.out.SendTo(ctx, sub.ChatID, text); err != nil {
			b.log.Warn().Err(err).Str("chat_id", sub.ChatID).Int64("signal_id", s.ID).Msg("personal delivery failed")
			errs = append(errs, fmt.Errorf("chat %s: %w", sub.ChatID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
