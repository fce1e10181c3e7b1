// Package instruments periodically refreshes exchange master data
// (tradable instruments, lot sizes, tick sizes, option chains) from a
// broker or data-vendor master feed into the persistence port.
package instruments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"tradecore/internal/config"
	"tradecore/internal/persistence"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// masterRow is the JSON shape of one row in an instrument master feed.
type masterRow struct {
	Exchange       string  `json:"exchange"`
	Symbol         string  `json:"symbol"`
	InstrumentType string  `json:"instrument_type"`
	LotSize        int64   `json:"lot_size"`
	TickSize       float64 `json:"tick_size"`
	Expiry         string  `json:"expiry"`
	Strike         float64 `json:"strike"`
	OptionType     string  `json:"option_type"`
	Tradable       bool    `json:"tradable"`
}

// Refresher polls a master-data source and replaces the locally cached
// instrument set, mirroring the immediate-scan-then-ticker poll loop
// used elsewhere for periodic external fetches.
type Refresher struct {
	httpClient *resty.Client
	cfg        config.InstrumentsConfig
	store      persistence.Port
	logger     *slog.Logger
}

// New builds a Refresher.
func New(cfg config.InstrumentsConfig, store persistence.Port, logger *slog.Logger) *Refresher {
	client := resty.New().
		SetBaseURL(cfg.SourceURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second)

	return &Refresher{
		httpClient: client,
		cfg:        cfg,
		store:      store,
		logger:     logger.With("component", "instruments"),
	}
}

// Run polls on cfg.PollInterval until ctx is cancelled, refreshing
// immediately on startup.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Error("initial instrument refresh failed", "error", err)
	}

	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Error("instrument refresh failed", "error", err)
			}
		}
	}
}

// Refresh fetches the master feed once and replaces the persisted
// instrument set in full.
func (r *Refresher) Refresh(ctx context.Context) error {
	rows, err := r.fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch instrument master: %w", err)
	}

	instruments := make([]domain.Instrument, 0, len(rows))
	for _, row := range rows {
		inst, err := convertRow(row)
		if err != nil {
			r.logger.Warn("skipping unparseable instrument master row", "exchange", row.Exchange, "symbol", row.Symbol, "error", err)
			continue
		}
		instruments = append(instruments, inst)
	}

	if err := r.store.ReplaceInstruments(ctx, instruments); err != nil {
		return fmt.Errorf("replace instruments: %w", err)
	}

	r.logger.Info("instrument master refreshed", "fetched", len(rows), "accepted", len(instruments))
	return nil
}

func (r *Refresher) fetch(ctx context.Context) ([]masterRow, error) {
	var rows []masterRow
	resp, err := r.httpClient.R().SetContext(ctx).SetResult(&rows).Get("")
	if err != nil {
		return nil, fmt.Errorf("request instrument master: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("instrument master: status %d", resp.StatusCode())
	}
	return rows, nil
}

func convertRow(row masterRow) (domain.Instrument, error) {
	if row.Exchange == "" || row.Symbol == "" {
		return domain.Instrument{}, fmt.Errorf("missing exchange/symbol")
	}

	inst := domain.Instrument{
		Exchange: row.Exchange,
		Symbol:   row.Symbol,
		Type:     domain.InstrumentType(row.InstrumentType),
		LotSize:  row.LotSize,
		TickSize: money.New(row.TickSize),
		Tradable: row.Tradable,
	}
	if row.Expiry != "" {
		expiry := row.Expiry
		inst.Expiry = &expiry
	}
	if row.InstrumentType == string(domain.InstrumentOption) {
		strike := money.New(row.Strike)
		inst.Strike = &strike
		inst.OptionType = domain.OptionType(row.OptionType)
	}
	return inst, nil
}

