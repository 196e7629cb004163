package optimization

import (
	"context"
	"time"
)

// PriceFetcher supplies aligned adjusted close prices for symbols over the
// inclusive date range, columns in the requested order.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, symbols []string, start, end time.Time) (*PriceMatrix, error)
}
