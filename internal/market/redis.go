package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amirphl/quant-signals/internal/candle"
	"github.com/amirphl/quant-signals/internal/filter"
)

// RedisConfig locates the data the external feed publishes.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PriceKey string // hash: instrument -> last price
	NewsKey  string // string: JSON array of calendar events
	MaxBars  int    // candle lists are trimmed to this length
}

// RedisFeed reads candles, prices and calendar events that a feed process
// keeps in Redis. Candles live in one list per instrument and timeframe,
// oldest first, one JSON object per entry.
type RedisFeed struct {
	client *redis.Client
	cfg    RedisConfig
}

func NewRedisFeed(cfg RedisConfig) (*RedisFeed, error) {
	if cfg.PriceKey == "" {
		cfg.PriceKey = "prices:last"
	}
	if cfg.NewsKey == "" {
		cfg.NewsKey = "news:calendar"
	}
	if cfg.MaxBars <= 0 {
		cfg.MaxBars = 1000
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisFeed{client: client, cfg: cfg}, nil
}

// Close closes the Redis connection.
func (r *RedisFeed) Close() error {
	return r.client.Close()
}

func candleKey(instrument, timeframe string) string {
	return "candles:" + instrument + ":" + timeframe
}

func (r *RedisFeed) FetchCandles(ctx context.Context, instrument, timeframe string, bars int) (*candle.Series, error) {
	start := int64(0)
	if bars > 0 {
		start = -int64(bars)
	}
	raw, err := r.client.LRange(ctx, candleKey(instrument, timeframe), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrDataUnavailable, instrument, timeframe, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s %s: empty", ErrDataUnavailable, instrument, timeframe)
	}
	candles := make([]candle.Candle, 0, len(raw))
	for _, item := range raw {
		var c candle.Candle
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			return nil, fmt.Errorf("%w: decode %s %s: %v", ErrDataUnavailable, instrument, timeframe, err)
		}
		if c.Symbol == "" {
			c.Symbol = instrument
		}
		if c.Timeframe == "" {
			c.Timeframe = timeframe
		}
		candles = append(candles, c)
	}
	return candle.NewSeries(instrument, timeframe, candles)
}

// PublishCandles appends candles to their list and trims it to MaxBars.
func (r *RedisFeed) PublishCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	keys := map[string]bool{}
	for _, c := range candles {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		key := candleKey(c.Symbol, c.Timeframe)
		pipe.RPush(ctx, key, b)
		keys[key] = true
	}
	for key := range keys {
		pipe.LTrim(ctx, key, -int64(r.cfg.MaxBars), -1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisFeed) LastPrice(ctx context.Context, instrument string) (float64, bool, error) {
	v, err := r.client.HGet(ctx, r.cfg.PriceKey, instrument).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	p, err := strconv.ParseFloat(v, 64)
	if err != nil || p <= 0 {
		return 0, false, nil
	}
	return p, true, nil
}

func (r *RedisFeed) SetPrice(ctx context.Context, instrument string, price float64) error {
	return r.client.HSet(ctx, r.cfg.PriceKey, instrument, strconv.FormatFloat(price, 'f', -1, 64)).Err()
}

func (r *RedisFeed) Events(ctx context.Context) ([]filter.Event, error) {
	b, err := r.client.Get(ctx, r.cfg.NewsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var events []filter.Event
	if err := json.Unmarshal(b, &events); err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}
	return events, nil
}

func (r *RedisFeed) SetEvents(ctx context.Context, events []filter.Event, ttl time.Duration) error {
	b, err := json.Marshal(events)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.cfg.NewsKey, b, ttl).Err()
}

var (
	_ Provider     = (*RedisFeed)(nil)
	_ NewsProvider = (*RedisFeed)(nil)
	_ PriceSource  = (*RedisFeed)(nil)
	_ Provider     = (*Static)(nil)
	_ NewsProvider = (*Static)(nil)
	_ PriceSource  = (*Static)(nil)
)
