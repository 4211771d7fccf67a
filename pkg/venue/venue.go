package venue

import "context"

// ExecutionVenue places and manages orders on behalf of the engine.
type ExecutionVenue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	ModifyOrder(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error
	CloseOrder(ctx context.Context, ticket int64) error
	ListOpenPositions(ctx context.Context, tag int64) ([]Position, error)
}

// MarketData exposes prices and instrument properties.
type MarketData interface {
	CurrentPrice(ctx context.Context, symbol string) (Quote, error)
	Volatility(ctx context.Context, symbol string) (float64, error)
	Spread(ctx context.Context, symbol string) (float64, error)
	MinStopDistance(ctx context.Context, symbol string) (float64, error)
	LotConstraints(ctx context.Context, symbol string) (LotConstraints, error)
}

// AccountSource samples the trading account.
type AccountSource interface {
	Snapshot(ctx context.Context) (AccountSnapshot, error)
}
