// Package rest implements a generic REST broker adapter: place/modify/
// cancel and order/position/holding snapshot reads over resty, with
// per-category rate limiting, HMAC request signing, and a dry-run mode
// that fabricates acks instead of calling out.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tradecore/internal/broker"
	"tradecore/internal/broker/auth"
	"tradecore/internal/broker/ratelimit"
	"tradecore/internal/config"
	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

// wirePayload is the broker-facing JSON shape for a place request.
type wirePayload struct {
	ClientOrderID string `json:"client_order_id"`
	Exchange      string `json:"exchange"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Validity      string `json:"validity"`
	Product       string `json:"product"`
	Quantity      int64  `json:"quantity"`
	Price         string `json:"price"`
	TriggerPrice  string `json:"trigger_price,omitempty"`
}

type placeResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

// Client is a resty-backed Adapter implementation for one broker.
type Client struct {
	http   *resty.Client
	signer *auth.Signer
	rl     *ratelimit.Limiter
	dryRun bool
	broker string
	logger *slog.Logger
}

// New builds a REST adapter for brokerID using its configured base URL
// and rate limits.
func New(brokerID string, bc config.BrokerConfig, signer *auth.Signer, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(bc.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Only idempotent reads are retried; place/modify/cancel
			// surface their first failure to the caller.
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		signer: signer,
		rl:     ratelimit.New(bc.RateLimits),
		dryRun: bc.DryRun,
		broker: brokerID,
		logger: logger.With("component", "broker_rest", "broker", brokerID),
	}
}

func (c *Client) signedRequest(ctx context.Context, method, path, body string) (map[string]string, error) {
	return c.signer.Headers(method, path, body)
}

func (c *Client) Place(ctx context.Context, o domain.Order) (broker.PlaceResult, error) {
	if c.dryRun {
		c.logger.Info("dry-run place", "order_id", o.OrderID)
		return broker.PlaceResult{BrokerOrderID: "dry-run-" + o.OrderID, Accepted: true}, nil
	}
	if err := c.rl.Wait(ctx, ratelimit.Order); err != nil {
		return broker.PlaceResult{}, err
	}

	var trigger string
	if o.TriggerPrice != nil {
		trigger = o.TriggerPrice.String()
	}
	payload := wirePayload{
		ClientOrderID: o.OrderID,
		Exchange:      o.Instrument.Exchange,
		Symbol:        o.Instrument.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Validity:      string(o.Validity),
		Product:       string(o.Product),
		Quantity:      o.Quantity,
		Price:         o.Price.String(),
		TriggerPrice:  trigger,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return broker.PlaceResult{}, fmt.Errorf("marshal place payload: %w", err)
	}
	headers, err := c.signedRequest(ctx, http.MethodPost, "/orders", string(body))
	if err != nil {
		return broker.PlaceResult{}, fmt.Errorf("sign place request: %w", err)
	}

	var result placeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return broker.PlaceResult{}, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		return broker.PlaceResult{Accepted: false, RejectReason: result.Reason}, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return broker.PlaceResult{}, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return broker.PlaceResult{BrokerOrderID: result.OrderID, Accepted: true}, nil
}

func (c *Client) Modify(ctx context.Context, o domain.Order) error {
	if c.dryRun {
		c.logger.Info("dry-run modify", "broker_order_id", o.BrokerOrderID)
		return nil
	}
	if err := c.rl.Wait(ctx, ratelimit.Order); err != nil {
		return err
	}
	body, err := json.Marshal(struct {
		Quantity int64  `json:"quantity"`
		Price    string `json:"price"`
	}{Quantity: o.Quantity, Price: o.Price.String()})
	if err != nil {
		return fmt.Errorf("marshal modify payload: %w", err)
	}
	path := "/orders/" + o.BrokerOrderID
	headers, err := c.signedRequest(ctx, http.MethodPut, path, string(body))
	if err != nil {
		return fmt.Errorf("sign modify request: %w", err)
	}
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(json.RawMessage(body)).Put(path)
	if err != nil {
		return fmt.Errorf("modify order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("modify order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) Cancel(ctx context.Context, brokerOrderID string) error {
	if c.dryRun {
		c.logger.Info("dry-run cancel", "broker_order_id", brokerOrderID)
		return nil
	}
	if err := c.rl.Wait(ctx, ratelimit.Cancel); err != nil {
		return err
	}
	path := "/orders/" + brokerOrderID
	headers, err := c.signedRequest(ctx, http.MethodDelete, path, "")
	if err != nil {
		return fmt.Errorf("sign cancel request: %w", err)
	}
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type orderRow struct {
	OrderID  string `json:"order_id"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Quantity int64  `json:"quantity"`
	Filled   int64  `json:"filled_quantity"`
	Price    string `json:"price"`
	State    string `json:"state"`
}

func (c *Client) FetchOpenOrders(ctx context.Context) ([]domain.Order, error) {
	if err := c.rl.Wait(ctx, ratelimit.Fetch); err != nil {
		return nil, err
	}
	headers, err := c.signedRequest(ctx, http.MethodGet, "/orders", "")
	if err != nil {
		return nil, fmt.Errorf("sign fetch orders request: %w", err)
	}
	var rows []orderRow
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&rows).Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		price, _ := money.NewFromString(r.Price)
		out = append(out, domain.Order{
			BrokerOrderID:  r.OrderID,
			Broker:         c.broker,
			Instrument:     domain.InstrumentRef{Exchange: r.Exchange, Symbol: r.Symbol},
			Side:           domain.Side(r.Side),
			Type:           domain.OrderType(r.Type),
			Quantity:       r.Quantity,
			FilledQuantity: r.Filled,
			Price:          price,
			State:          domain.State(r.State),
		})
	}
	return out, nil
}

type positionRow struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Product  string `json:"product"`
	BuyQty   int64  `json:"buy_qty"`
	SellQty  int64  `json:"sell_qty"`
	AvgBuy   string `json:"avg_buy"`
	AvgSell  string `json:"avg_sell"`
}

func (c *Client) FetchPositions(ctx context.Context) ([]domain.Position, error) {
	if err := c.rl.Wait(ctx, ratelimit.Fetch); err != nil {
		return nil, err
	}
	headers, err := c.signedRequest(ctx, http.MethodGet, "/positions", "")
	if err != nil {
		return nil, fmt.Errorf("sign fetch positions request: %w", err)
	}
	var rows []positionRow
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&rows).Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		avgBuy, _ := money.NewFromString(r.AvgBuy)
		avgSell, _ := money.NewFromString(r.AvgSell)
		out = append(out, domain.Position{
			Broker:     c.broker,
			Instrument: domain.InstrumentRef{Exchange: r.Exchange, Symbol: r.Symbol},
			Product:    domain.ProductType(r.Product),
			BuyQty:     r.BuyQty,
			SellQty:    r.SellQty,
			AvgBuy:     avgBuy,
			AvgSell:    avgSell,
		})
	}
	return out, nil
}

type holdingRow struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	AvgCost  string `json:"avg_cost"`
	LTP      string `json:"last_traded_price"`
}

func (c *Client) FetchHoldings(ctx context.Context) ([]domain.Holding, error) {
	if err := c.rl.Wait(ctx, ratelimit.Fetch); err != nil {
		return nil, err
	}
	headers, err := c.signedRequest(ctx, http.MethodGet, "/holdings", "")
	if err != nil {
		return nil, fmt.Errorf("sign fetch holdings request: %w", err)
	}
	var rows []holdingRow
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&rows).Get("/holdings")
	if err != nil {
		return nil, fmt.Errorf("fetch holdings: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch holdings: status %d: %s", resp.StatusCode(), resp.String())
	}
	out := make([]domain.Holding, 0, len(rows))
	for _, r := range rows {
		avgCost, _ := money.NewFromString(r.AvgCost)
		ltp, _ := money.NewFromString(r.LTP)
		out = append(out, domain.Holding{
			Broker:       c.broker,
			Instrument:   domain.InstrumentRef{Exchange: r.Exchange, Symbol: r.Symbol},
			Quantity:     r.Quantity,
			AvgCost:      avgCost,
			LastTradedPx: ltp,
		})
	}
	return out, nil
}
