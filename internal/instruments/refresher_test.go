package instruments

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradecore/internal/config"
	"tradecore/internal/persistence"
	"tradecore/pkg/domain"
)

func TestRefreshReplacesInstrumentSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := []masterRow{
			{Exchange: "NSE", Symbol: "RELIANCE", InstrumentType: "EQUITY", LotSize: 1, TickSize: 0.05, Tradable: true},
			{Exchange: "NSE", Symbol: "NIFTY24DECFUT", InstrumentType: "FUTURE", LotSize: 50, TickSize: 0.05, Tradable: true},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	store := persistence.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(config.InstrumentsConfig{SourceURL: srv.URL}, store, logger)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	inst, found, err := store.LoadInstrument(context.Background(), domain.InstrumentRef{Exchange: "NSE", Symbol: "RELIANCE"})
	if err != nil {
		t.Fatalf("load instrument: %v", err)
	}
	if !found || inst.LotSize != 1 {
		t.Fatalf("expected RELIANCE instrument with lot size 1, got found=%v inst=%+v", found, inst)
	}

	fut, found, err := store.LoadInstrument(context.Background(), domain.InstrumentRef{Exchange: "NSE", Symbol: "NIFTY24DECFUT"})
	if err != nil {
		t.Fatalf("load instrument: %v", err)
	}
	if !found || fut.LotSize != 50 {
		t.Fatalf("expected futures instrument with lot size 50, got found=%v inst=%+v", found, fut)
	}
}

func TestRefreshSkipsRowsMissingIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := []masterRow{
			{Exchange: "", Symbol: "BAD", InstrumentType: "EQUITY"},
			{Exchange: "NSE", Symbol: "GOOD", InstrumentType: "EQUITY", LotSize: 1, Tradable: true},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	store := persistence.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(config.InstrumentsConfig{SourceURL: srv.URL}, store, logger)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	_, found, err := store.LoadInstrument(context.Background(), domain.InstrumentRef{Exchange: "NSE", Symbol: "GOOD"})
	if err != nil {
		t.Fatalf("load instrument: %v", err)
	}
	if !found {
		t.Fatalf("expected GOOD instrument to be stored")
	}
}

func TestRefreshPropagatesFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := persistence.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(config.InstrumentsConfig{SourceURL: srv.URL}, store, logger)

	if err := r.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error from failing source")
	}
}
