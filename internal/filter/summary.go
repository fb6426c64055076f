package filter

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/zombor/trip-ledger/internal/receipt"
)

// UnknownCurrency buckets receipts without a currency
const UnknownCurrency = "UNKNOWN"

// CategoryTotal is the spend on one category within one currency
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Share    float64 `json:"share"` // of the currency's item total, 0..1
}

// CurrencySummary totals the receipts of one currency. Amounts in different
// currencies are never added together.
type CurrencySummary struct {
	Currency     string          `json:"currency"`
	ReceiptCount int             `json:"receiptCount"`
	Total        float64         `json:"total"`
	ItemTotal    float64         `json:"itemTotal"`
	Categories   []CategoryTotal `json:"categories"`
}

// Summary is the aggregate of a receipt list
type Summary struct {
	ReceiptCount int               `json:"receiptCount"`
	Currencies   []CurrencySummary `json:"currencies"`
}

type bucket struct {
	receipts   int
	total      decimal.Decimal
	itemTotal  decimal.Decimal
	categories map[string]decimal.Decimal
}

// Aggregate groups items by currency and then by category. Currencies are
// sorted by code, categories by total descending then name.
func Aggregate(receipts []receipt.Receipt) Summary {
	buckets := map[string]*bucket{}
	for _, r := range receipts {
		code := r.Currency
		if code == "" {
			code = UnknownCurrency
		}
		b, ok := buckets[code]
		if !ok {
			b = &bucket{categories: map[string]decimal.Decimal{}}
			buckets[code] = b
		}
		b.receipts++
		b.total = b.total.Add(decimal.NewFromFloat(r.Total))
		for _, item := range r.Items {
			category := item.Category
			if category == "" {
				category = receipt.OtherCategory
			}
			price := decimal.NewFromFloat(item.Price)
			b.categories[category] = b.categories[category].Add(price)
			b.itemTotal = b.itemTotal.Add(price)
		}
	}

	summary := Summary{ReceiptCount: len(receipts), Currencies: make([]CurrencySummary, 0, len(buckets))}
	for code, b := range buckets {
		cs := CurrencySummary{
			Currency:     code,
			ReceiptCount: b.receipts,
			Total:        b.total.InexactFloat64(),
			ItemTotal:    b.itemTotal.InexactFloat64(),
			Categories:   make([]CategoryTotal, 0, len(b.categories)),
		}
		for name, total := range b.categories {
			ct := CategoryTotal{Category: name, Total: total.InexactFloat64()}
			if b.itemTotal.IsPositive() {
				ct.Share = total.DivRound(b.itemTotal, 4).InexactFloat64()
			}
			cs.Categories = append(cs.Categories, ct)
		}
		sort.Slice(cs.Categories, func(i, j int) bool {
			a, c := cs.Categories[i], cs.Categories[j]
			if a.Total != c.Total {
				return a.Total > c.Total
			}
			return a.Category < c.Category
		})
		summary.Currencies = append(summary.Currencies, cs)
	}
	sort.Slice(summary.Currencies, func(i, j int) bool {
		return summary.Currencies[i].Currency < summary.Currencies[j].Currency
	})
	return summary
}

// DateGroup is the receipts of one day
type DateGroup struct {
	Date     receipt.Date      `json:"date"`
	Receipts []receipt.Receipt `json:"receipts"`
}

// GroupByDate groups receipts by day, newest first. Within a day the input
// order is kept.
func GroupByDate(receipts []receipt.Receipt) []DateGroup {
	index := map[string]int{}
	var groups []DateGroup
	for _, r := range receipts {
		day := r.Date.String()
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DateGroup{Date: r.Date})
		}
		groups[i].Receipts = append(groups[i].Receipts, r)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Date.After(groups[j].Date)
	})
	return groups
}

// DateBounds returns the earliest and latest receipt dates, ignoring
// receipts without one. ok is false when there is no dated receipt.
func DateBounds(receipts []receipt.Receipt) (DateRange, bool) {
	var lo, hi receipt.Date
	for _, r := range receipts {
		if r.Date.IsZero() {
			continue
		}
		if lo.IsZero() || r.Date.Before(lo) {
			lo = r.Date
		}
		if hi.IsZero() || r.Date.After(hi) {
			hi = r.Date
		}
	}
	if lo.IsZero() {
		return DateRange{}, false
	}
	return DateRange{Start: &lo, End: &hi}, true
}
