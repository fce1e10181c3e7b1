package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tradecore/pkg/domain"
	"tradecore/pkg/money"
)

func newSubmitCmd() *cobra.Command {
	var (
		file           string
		idempotencyKey string
		strategyID     string
		brokerID       string
		exchange       string
		symbol         string
		side           string
		orderType      string
		validity       string
		product        string
		quantity       int64
		price          float64
		icebergVisible int64
		bracketTarget  float64
		bracketStop    float64
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a trading intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var intent domain.Intent
			if file != "" {
				intent, err = loadIntentFile(file)
				if err != nil {
					return err
				}
			} else {
				intent = domain.Intent{
					IdempotencyKey: idempotencyKey,
					StrategyID:     strategyID,
					Broker:         brokerID,
					Instrument:     domain.InstrumentRef{Exchange: exchange, Symbol: symbol},
					Side:           domain.Side(side),
					Type:           domain.OrderType(orderType),
					Validity:       domain.Validity(validity),
					Product:        domain.ProductType(product),
					Quantity:       quantity,
					Price:          money.New(price),
					IcebergVisible: icebergVisible,
				}
				if (bracketTarget != 0) != (bracketStop != 0) {
					return fmt.Errorf("--bracket-target and --bracket-stop must be given together")
				}
				if bracketTarget != 0 || bracketStop != 0 {
					intent.Bracket = &domain.BracketSpec{
						TargetPrice: money.New(bracketTarget),
						StopPrice:   money.New(bracketStop),
					}
				}
			}

			order, err := a.coord.Submit(cmd.Context(), intent)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			return json.NewEncoder(os.Stdout).Encode(order)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to a JSON-encoded intent; overrides the flags below")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "client-supplied idempotency key")
	cmd.Flags().StringVar(&strategyID, "strategy-id", "", "submitting strategy identifier")
	cmd.Flags().StringVar(&brokerID, "broker", "", "target broker id; empty lets the router decide")
	cmd.Flags().StringVar(&exchange, "exchange", "", "instrument exchange")
	cmd.Flags().StringVar(&symbol, "symbol", "", "instrument symbol")
	cmd.Flags().StringVar(&side, "side", "BUY", "BUY or SELL")
	cmd.Flags().StringVar(&orderType, "type", "LIMIT", "LIMIT, MARKET, STOP_LOSS, or STOP_LOSS_MARKET")
	cmd.Flags().StringVar(&validity, "validity", "DAY", "DAY or IOC")
	cmd.Flags().StringVar(&product, "product", "MIS", "MIS (intraday) or CNC (delivery)")
	cmd.Flags().Int64Var(&quantity, "quantity", 0, "order quantity")
	cmd.Flags().Float64Var(&price, "price", 0, "order price; must be positive for every order type, MARKET included")
	cmd.Flags().Int64Var(&icebergVisible, "iceberg-visible", 0, "visible slice quantity; 0 disables iceberg splitting")
	cmd.Flags().Float64Var(&bracketTarget, "bracket-target", 0, "target price for the bracket exit pair; requires --bracket-stop")
	cmd.Flags().Float64Var(&bracketStop, "bracket-stop", 0, "stop price for the bracket exit pair; requires --bracket-target")

	return cmd
}

func loadIntentFile(path string) (domain.Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("read intent file: %w", err)
	}
	var intent domain.Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return domain.Intent{}, fmt.Errorf("parse intent file: %w", err)
	}
	return intent, nil
}
