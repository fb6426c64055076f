package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks a receipt through the offline-first upload lifecycle
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
)

// rank orders statuses so transitions can be checked for monotonicity
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSyncing:
		return 1
	case StatusSynced:
		return 2
	}
	return -1
}

// Text is a string as printed on the receipt plus its English translation
type Text struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
}

// Item is one line on a receipt
type Item struct {
	Description Text    `json:"description"`
	Price       float64 `json:"price"` // may be zero or negative for discounts
	Category    string  `json:"category"`
}

// Receipt represents a purchase with its line items
type Receipt struct {
	ID        string    `json:"id"`
	Merchant  Text      `json:"merchant"`
	Date      Date      `json:"date"`
	Location  string    `json:"location,omitempty"`
	Total     float64   `json:"total"`
	Currency  string    `json:"currency"`
	Items     []Item    `json:"items"`
	Status    Status    `json:"status"`
	TripID    string    `json:"tripId,omitempty"` // weak reference, may dangle
	CreatedAt time.Time `json:"createdAt"`

	// LegacyCategory is a receipt-level category written by older versions.
	// It is pushed down into the items when the repository opens.
	LegacyCategory string `json:"category,omitempty"`
}

// Draft is the user-supplied part of a receipt
type Draft struct {
	Merchant Text   `json:"merchant"`
	Date     Date   `json:"date"`
	Location string `json:"location,omitempty"`
	Currency string `json:"currency"`
	Items    []Item `json:"items"`
	TripID   string `json:"tripId,omitempty"`
}

// Trip groups receipts by name and date range
type Trip struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate Date   `json:"startDate"`
	EndDate   Date   `json:"endDate"`
}

// Upload pairs a draft with its image for batch creation
type Upload struct {
	Draft Draft
	Image []byte
}

// SumItems adds item prices exactly and returns the total
func SumItems(items []Item) float64 {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(decimal.NewFromFloat(item.Price))
	}
	return sum.InexactFloat64()
}

// recompute enforces the total invariant and the non-nil item list
func (r *Receipt) recompute() {
	if r.Items == nil {
		r.Items = []Item{}
	}
	r.Total = SumItems(r.Items)
}

// clone returns a deep copy so callers never share the item slice
func (r Receipt) clone() Receipt {
	items := make([]Item, len(r.Items))
	copy(items, r.Items)
	r.Items = items
	return r
}
