package domain

import "tradecore/pkg/money"

// InstrumentType groups instruments that share margin/fee treatment.
type InstrumentType string

const (
	InstrumentEquity       InstrumentType = "EQUITY"
	InstrumentFuture       InstrumentType = "FUTURE"
	InstrumentOption       InstrumentType = "OPTION"
	InstrumentCurrencyPair InstrumentType = "CURRENCY"
)

// OptionType distinguishes calls from puts; zero value for non-options.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Instrument is exchange master data. It is immutable except for the
// periodic refresh performed by internal/instruments.
type Instrument struct {
	Exchange   string
	Symbol     string
	Type       InstrumentType
	LotSize    int64
	TickSize   money.Amount
	Expiry     *string
	Strike     *money.Amount
	OptionType OptionType
	Tradable   bool
}

// Ref returns the identity pair used to address this instrument
// elsewhere in the domain model.
func (i Instrument) Ref() InstrumentRef {
	return InstrumentRef{Exchange: i.Exchange, Symbol: i.Symbol}
}

// AlignPrice rounds p down to the nearest tick; the coordinator's order
// normalization applies it before accepting an order price.
func (i Instrument) AlignPrice(p money.Amount) money.Amount {
	return p.FloorToStep(i.TickSize)
}
