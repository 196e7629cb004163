package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/stretchr/testify/mock"
)

// MockPriceFetcher is a testify mock of optimization.PriceFetcher.
type MockPriceFetcher struct {
	mock.Mock
}

func (m *MockPriceFetcher) FetchPrices(ctx context.Context, symbols []string, start, end time.Time) (*optimization.PriceMatrix, error) {
	args := m.Called(ctx, symbols, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*optimization.PriceMatrix), args.Error(1)
}

// StaticPriceFetcher serves columns out of a fixed price matrix and counts
// calls.
type StaticPriceFetcher struct {
	mu     sync.RWMutex
	prices *optimization.PriceMatrix
	err    error
	calls  int
}

func NewStaticPriceFetcher(prices *optimization.PriceMatrix) *StaticPriceFetcher {
	return &StaticPriceFetcher{prices: prices}
}

// SetError makes every subsequent call fail with err.
func (f *StaticPriceFetcher) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns how many times FetchPrices ran.
func (f *StaticPriceFetcher) Calls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls
}

func (f *StaticPriceFetcher) FetchPrices(_ context.Context, symbols []string, _, _ time.Time) (*optimization.PriceMatrix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.prices == nil {
		return nil, fmt.Errorf("%w: no prices configured", optimization.ErrInsufficientData)
	}
	return f.prices.Select(symbols)
}
