package scanning

import "context"

// LocalizedText is a string as printed plus its English translation
type LocalizedText struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
}

// ExtractedItem is one line item read from a receipt
type ExtractedItem struct {
	Description LocalizedText `json:"description"`
	Price       float64       `json:"price"`
	Category    string        `json:"category"`
}

// Location is the model's guess at where the receipt was issued
type Location struct {
	Determined  string   `json:"determined"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Extraction contains extracted information from a receipt. Total is the
// total printed on the receipt and is never trusted by callers.
type Extraction struct {
	Merchant LocalizedText   `json:"merchant"`
	Date     string          `json:"date"` // YYYY-MM-DD
	Location *Location       `json:"location,omitempty"`
	Total    float64         `json:"total"`
	Currency string          `json:"currency"`
	Items    []ExtractedItem `json:"items"`
}

// Coordinates is an optional hint of where the user is
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Extractor defines the interface for receipt extraction operations
type Extractor interface {
	// Extract analyzes a receipt image/PDF. Item categories are drawn from
	// categories; coords may be nil.
	Extract(ctx context.Context, image []byte, contentType string, categories []string, coords *Coordinates) (*Extraction, error)
	// Close closes the extractor and releases resources
	Close() error
}

// Answerer answers free-form questions about a set of receipts
type Answerer interface {
	Ask(ctx context.Context, receiptsJSON []byte, question string) (string, error)
}
