package currency

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/trip-ledger/internal/receipt"
)

// maxConcurrentLookups bounds parallel rate fetches in ConvertTotal
const maxConcurrentLookups = 4

// Converted is a sum of receipt totals expressed in one currency
type Converted struct {
	Currency  string  `json:"currency"`
	Total     float64 `json:"total"`
	Converted int     `json:"converted"`
	Missing   int     `json:"missing"` // receipts without a rate, left out of Total
}

// ConvertTotal converts each receipt total at the rate of its own date and
// sums the results. Receipts without a rate are counted in Missing instead
// of failing the whole sum.
func (c *Cache) ConvertTotal(ctx context.Context, receipts []receipt.Receipt, to string) (*Converted, error) {
	to = strings.ToUpper(to)
	rates := make([]float64, len(receipts))
	found := make([]bool, len(receipts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, rec := range receipts {
		if rec.Currency == "" {
			continue
		}
		g.Go(func() error {
			rates[i], found[i] = c.GetRate(gctx, rec.Date, rec.Currency, to)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Converted{Currency: to}
	sum := decimal.Zero
	for i, rec := range receipts {
		if !found[i] {
			out.Missing++
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(rec.Total).Mul(decimal.NewFromFloat(rates[i])))
		out.Converted++
	}
	out.Total = sum.Round(2).InexactFloat64()
	return out, ctx.Err()
}
