// Package batch prices many option trades at once, paced to stay inside the
// market data rate budget, and writes the prices back to the trade store.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
)

// Processing modes.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Defaults for batch processing.
const (
	DefaultBatchSize    = 5
	DefaultRequestDelay = 1 * time.Second
	DefaultBatchDelay   = 2 * time.Second
)

// PriceSourceAlpaca is recorded on trades priced by this package.
const PriceSourceAlpaca = "alpaca"

var (
	// ErrUpdateInProgress is returned when a bulk update is already running.
	ErrUpdateInProgress = errors.New("price update already in progress")
	// ErrNoStore is returned by store-backed operations when no store is wired.
	ErrNoStore = errors.New("no trade store configured")
)

// Resolver prices one option contract.
type Resolver interface {
	ResolveQuote(ctx context.Context, key models.OptionContractKey) (*quotes.Quote, error)
}

// Config tunes an Orchestrator.
type Config struct {
	Mode string
	// RequestDelay spaces requests in sequential mode. Zero or less means no delay.
	RequestDelay time.Duration
	// BatchDelay separates batches in parallel mode.
	BatchDelay time.Duration
	BatchSize  int
}

// DefaultConfig is sequential with a one second gap between requests.
var DefaultConfig = Config{
	Mode:         ModeSequential,
	BatchSize:    DefaultBatchSize,
	RequestDelay: DefaultRequestDelay,
	BatchDelay:   DefaultBatchDelay,
}

// Detail is the outcome for one trade.
type Detail struct {
	TradeID     string             `json:"trade_id,omitempty"`
	Contract    string             `json:"contract"`
	Symbol      string             `json:"symbol,omitempty"`
	Endpoint    string             `json:"endpoint,omitempty"`
	PriceSource quotes.PriceSource `json:"price_source,omitempty"`
	Error       string             `json:"error,omitempty"`
	Code        string             `json:"code,omitempty"`
	Price       float64            `json:"price,omitempty"`
	Success     bool               `json:"success"`
	Cached      bool               `json:"cached,omitempty"`
}

// Summary aggregates one batch run.
type Summary struct {
	StartedAt time.Time `json:"started_at"`
	Details   []Detail  `json:"details"`
	Duration  string    `json:"duration"`
	Updated   int       `json:"updated"`
	Failed    int       `json:"failed"`
}

type job struct {
	tradeID string
	key     models.OptionContractKey
}

// Orchestrator runs batch price updates.
type Orchestrator struct {
	resolver Resolver
	store    storage.Interface
	logger   logrus.FieldLogger
	now      func() time.Time
	cfg      Config
	updating atomic.Bool
}

// New creates an orchestrator. store may be nil when only UpdateAll is used.
func New(resolver Resolver, store storage.Interface, cfg Config, logger logrus.FieldLogger) *Orchestrator {
	if cfg.Mode != ModeParallel {
		cfg.Mode = ModeSequential
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		resolver: resolver,
		store:    store,
		logger:   logger.WithField("component", "batch"),
		now:      time.Now,
		cfg:      cfg,
	}
}

// UpdateAll resolves a price for every key. A failing key is reported in the
// summary and never stops the rest of the batch.
func (o *Orchestrator) UpdateAll(ctx context.Context, keys []models.OptionContractKey) Summary {
	jobs := make([]job, len(keys))
	for i, k := range keys {
		jobs[i] = job{key: k}
	}
	return o.run(ctx, jobs)
}

// UpdateOpenTrades prices every open trade in the store and saves the prices.
// A trade whose price cannot be saved counts as failed.
func (o *Orchestrator) UpdateOpenTrades(ctx context.Context) (Summary, error) {
	return o.updateStored(ctx, func(*models.Trade) bool { return true })
}

// UpdateMissingPrices prices only the open trades that have never been
// priced, or whose stored price is zero.
func (o *Orchestrator) UpdateMissingPrices(ctx context.Context) (Summary, error) {
	return o.updateStored(ctx, func(t *models.Trade) bool { return t.CurrentOptionPrice <= 0 })
}

func (o *Orchestrator) updateStored(ctx context.Context, keep func(*models.Trade) bool) (Summary, error) {
	if o.store == nil {
		return Summary{}, ErrNoStore
	}
	if !o.updating.CompareAndSwap(false, true) {
		return Summary{}, ErrUpdateInProgress
	}
	defer o.updating.Store(false)

	trades, err := o.store.ListOpenTrades()
	if err != nil {
		return Summary{}, fmt.Errorf("listing open trades: %w", err)
	}
	jobs := make([]job, 0, len(trades))
	for i := range trades {
		if keep(&trades[i]) {
			jobs = append(jobs, job{tradeID: trades[i].ID, key: trades[i].Key()})
		}
	}
	return o.run(ctx, jobs), nil
}

// Updating reports whether a store-backed update is running.
func (o *Orchestrator) Updating() bool {
	return o.updating.Load()
}

// RunAutoUpdates calls UpdateOpenTrades once right away and then every
// interval until ctx ends.
func (o *Orchestrator) RunAutoUpdates(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	o.logger.WithField("interval", interval).Info("automatic price updates started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.autoUpdate(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("automatic price updates stopped")
			return
		case <-ticker.C:
			o.autoUpdate(ctx)
		}
	}
}

func (o *Orchestrator) autoUpdate(ctx context.Context) {
	_, err := o.UpdateOpenTrades(ctx)
	switch {
	case errors.Is(err, ErrUpdateInProgress):
		o.logger.Debug("skipping automatic update, previous run still active")
	case err != nil:
		o.logger.WithError(err).Error("automatic price update failed")
	}
}

func (o *Orchestrator) run(ctx context.Context, jobs []job) Summary {
	start := o.now()
	details := make([]Detail, len(jobs))

	if o.cfg.Mode == ModeParallel {
		o.runParallel(ctx, jobs, details)
	} else {
		o.runSequential(ctx, jobs, details)
	}

	summary := Summary{StartedAt: start, Details: details}
	for _, d := range details {
		if d.Success {
			summary.Updated++
		} else {
			summary.Failed++
		}
	}
	summary.Duration = time.Since(start).Round(time.Millisecond).String()

	o.logger.WithFields(logrus.Fields{
		"mode":    o.cfg.Mode,
		"total":   len(jobs),
		"updated": summary.Updated,
		"failed":  summary.Failed,
	}).Info("price update finished")
	return summary
}

func (o *Orchestrator) runSequential(ctx context.Context, jobs []job, details []Detail) {
	limit := rate.Inf
	if o.cfg.RequestDelay > 0 {
		limit = rate.Every(o.cfg.RequestDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, j := range jobs {
		if err := limiter.Wait(ctx); err != nil {
			cancelRemaining(jobs[i:], details[i:], err)
			return
		}
		details[i] = o.process(ctx, j)
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, jobs []job, details []Detail) {
	size := o.cfg.BatchSize
	for start := 0; start < len(jobs); start += size {
		if start > 0 && o.cfg.BatchDelay > 0 {
			timer := time.NewTimer(o.cfg.BatchDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				cancelRemaining(jobs[start:], details[start:], ctx.Err())
				return
			}
		}

		end := min(start+size, len(jobs))
		var g errgroup.Group
		g.SetLimit(size)
		for i := start; i < end; i++ {
			g.Go(func() error {
				details[i] = o.process(ctx, jobs[i])
				return nil
			})
		}
		_ = g.Wait()
	}
}

func cancelRemaining(jobs []job, details []Detail, err error) {
	for i, j := range jobs {
		details[i] = Detail{
			TradeID:  j.tradeID,
			Contract: j.key.String(),
			Error:    fmt.Sprintf("not processed: %v", err),
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, j job) Detail {
	d := Detail{TradeID: j.tradeID, Contract: j.key.String()}
	log := o.logger.WithFields(logrus.Fields{"trade_id": j.tradeID, "contract": d.Contract})

	q, err := o.resolver.ResolveQuote(ctx, j.key)
	if err != nil {
		d.Error = err.Error()
		d.Code = quotes.Code(err)
		log.WithError(err).Warn("could not price trade")
		return d
	}
	d.Symbol = q.Symbol
	d.Endpoint = q.Endpoint
	d.Price = q.Price
	d.PriceSource = q.PriceSource
	d.Cached = q.Cached

	if j.tradeID != "" && o.store != nil {
		if err := o.store.UpdateTradePrice(j.tradeID, q.Price, o.now(), PriceSourceAlpaca); err != nil {
			d.Error = fmt.Sprintf("saving price: %v", err)
			log.WithError(err).Error("could not save trade price")
			return d
		}
	}

	d.Success = true
	log.WithFields(logrus.Fields{"price": q.Price, "source": q.PriceSource}).Debug("trade priced")
	return d
}
