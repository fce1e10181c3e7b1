package broker

import (
	"context"
	"log/slog"

	"tradecore/internal/broker/auth"
	"tradecore/internal/broker/rest"
	"tradecore/internal/broker/stream"
	"tradecore/internal/config"
	"tradecore/pkg/domain"
)

// restAdapter is the capability set rest.Client provides; declared here
// (instead of importing the broker package back into rest) so Live can
// compose a rest client with a stream feed without an import cycle.
type restAdapter interface {
	Place(ctx context.Context, o domain.Order) (PlaceResult, error)
	Modify(ctx context.Context, o domain.Order) error
	Cancel(ctx context.Context, brokerOrderID string) error
	FetchOpenOrders(ctx context.Context) ([]domain.Order, error)
	FetchPositions(ctx context.Context) ([]domain.Position, error)
	FetchHoldings(ctx context.Context) ([]domain.Holding, error)
}

// Live composes a REST adapter with a WebSocket event stream into a
// single Adapter, the generic broker integration used outside of
// dry-run/test mode.
type Live struct {
	restAdapter
	feed *stream.Feed
}

// NewLive builds a Live adapter for brokerID from configuration and
// resolved credentials.
func NewLive(brokerID string, bc config.BrokerConfig, apiKey, secret string, logger *slog.Logger) *Live {
	signer := auth.New(apiKey, secret)
	return &Live{
		restAdapter: rest.New(brokerID, bc, signer, logger),
		feed:        stream.New(bc.WSURL, apiKey, logger),
	}
}

// SubscribeEvents starts a run of the underlying stream on every call
// and returns a channel relaying its events until ctx is done.
func (l *Live) SubscribeEvents(ctx context.Context) (<-chan Event, error) {
	go func() {
		if err := l.feed.Run(ctx); err != nil && ctx.Err() == nil {
			// Run reconnects internally and returns only once ctx is
			// done, so this branch is not reached.
		}
	}()
	out := make(chan Event, 256)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-l.feed.Events():
				if !ok {
					return
				}
				out <- Event{
					Type:          EventType(evt.Type),
					BrokerOrderID: evt.BrokerOrderID,
					Sequence:      evt.Sequence,
					FillQty:       evt.FillQty,
					FillPrice:     evt.FillPrice,
					CumulativeQty: evt.CumulativeQty,
					Reason:        evt.Reason,
				}
			}
		}
	}()
	return out, nil
}
