// Package filter selects and summarizes receipts. Everything here is a pure
// function of its inputs and never touches storage.
package filter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zombor/trip-ledger/internal/receipt"
)

// DateRange bounds receipt dates inclusively. Either end may be nil.
type DateRange struct {
	Start *receipt.Date `json:"start,omitempty"`
	End   *receipt.Date `json:"end,omitempty"`
}

// AmountRange bounds receipt totals inclusively. Either end may be nil.
type AmountRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Filters are the structured filters chosen by the user
type Filters struct {
	DateRange   DateRange   `json:"dateRange"`
	Categories  []string    `json:"categories"`
	AmountRange AmountRange `json:"amountRange"`
}

// Query is one filter evaluation. An empty TripID matches every trip.
type Query struct {
	TripID  string  `json:"tripId,omitempty"`
	Search  string  `json:"search,omitempty"`
	Filters Filters `json:"filters"`
}

// Apply returns the receipts that pass every predicate of q, in input order
func Apply(receipts []receipt.Receipt, q Query) []receipt.Receipt {
	needle := strings.ToLower(q.Search)
	out := make([]receipt.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if !matchTrip(r, q.TripID) ||
			!matchSearch(r, needle) ||
			!matchDate(r, q.Filters.DateRange) ||
			!matchCategories(r, q.Filters.Categories) ||
			!matchAmount(r, q.Filters.AmountRange) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchTrip(r receipt.Receipt, tripID string) bool {
	return tripID == "" || r.TripID == tripID
}

func matchSearch(r receipt.Receipt, needle string) bool {
	if needle == "" {
		return true
	}
	if containsLower(r.Merchant, needle) {
		return true
	}
	for _, item := range r.Items {
		if containsLower(item.Description, needle) {
			return true
		}
	}
	return false
}

func containsLower(t receipt.Text, needle string) bool {
	return strings.Contains(strings.ToLower(t.Original), needle) ||
		strings.Contains(strings.ToLower(t.Translated), needle)
}

func matchDate(r receipt.Receipt, dr DateRange) bool {
	if dr.Start != nil && r.Date.Before(*dr.Start) {
		return false
	}
	if dr.End != nil && r.Date.After(*dr.End) {
		return false
	}
	return true
}

func matchCategories(r receipt.Receipt, categories []string) bool {
	if len(categories) == 0 {
		return true
	}
	for _, item := range r.Items {
		if slices.Contains(categories, item.Category) {
			return true
		}
	}
	return false
}

func matchAmount(r receipt.Receipt, ar AmountRange) bool {
	if ar.Min != nil && r.Total < *ar.Min {
		return false
	}
	if ar.Max != nil && r.Total > *ar.Max {
		return false
	}
	return true
}

// Chip kinds
const (
	KindDateRange   = "dateRange"
	KindCategory    = "categories"
	KindAmountRange = "amountRange"
)

// Chip is one removable active filter
type Chip struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
	Label string `json:"label"`
}

// Active lists the filters currently narrowing the result
func (f Filters) Active() []Chip {
	var chips []Chip
	if f.DateRange.Start != nil || f.DateRange.End != nil {
		chips = append(chips, Chip{
			Kind:  KindDateRange,
			Label: fmt.Sprintf("Date: %s to %s", dateLabel(f.DateRange.Start), dateLabel(f.DateRange.End)),
		})
	}
	for _, c := range f.Categories {
		chips = append(chips, Chip{Kind: KindCategory, Value: c, Label: c})
	}
	if f.AmountRange.Min != nil || f.AmountRange.Max != nil {
		var parts []string
		if f.AmountRange.Min != nil {
			parts = append(parts, ">= "+formatAmount(*f.AmountRange.Min))
		}
		if f.AmountRange.Max != nil {
			parts = append(parts, "<= "+formatAmount(*f.AmountRange.Max))
		}
		chips = append(chips, Chip{Kind: KindAmountRange, Label: "Amount: " + strings.Join(parts, " & ")})
	}
	return chips
}

// Without returns f with one filter removed. value is only used for
// categories.
func (f Filters) Without(kind, value string) Filters {
	switch kind {
	case KindDateRange:
		f.DateRange = DateRange{}
	case KindAmountRange:
		f.AmountRange = AmountRange{}
	case KindCategory:
		kept := make([]string, 0, len(f.Categories))
		for _, c := range f.Categories {
			if c != value {
				kept = append(kept, c)
			}
		}
		f.Categories = kept
	}
	return f
}

func dateLabel(d *receipt.Date) string {
	if d == nil {
		return "..."
	}
	return d.String()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
