package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/trip-ledger/internal/receipt"
)

var (
	// ErrNoData means the source has no rates for the requested day, e.g. a
	// weekend or holiday. Callers may retry an earlier day.
	ErrNoData = errors.New("no rate data for date")

	// ErrRateMissing means the day was published but not for this pair
	ErrRateMissing = errors.New("rate missing from response")
)

// DefaultBaseURL is the public Frankfurter API
const DefaultBaseURL = "https://api.frankfurter.app"

// RateSource fetches historical exchange rates
type RateSource interface {
	Rate(ctx context.Context, date receipt.Date, from, to string) (float64, error)
}

// Frankfurter implements RateSource against the Frankfurter API
type Frankfurter struct {
	baseURL string
	client  *http.Client
}

// NewFrankfurter creates a client for baseURL (DefaultBaseURL if empty)
func NewFrankfurter(baseURL string) *Frankfurter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Frankfurter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type frankfurterResponse struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

// Rate fetches the rate from→to published for date
func (f *Frankfurter) Rate(ctx context.Context, date receipt.Date, from, to string) (float64, error) {
	query := url.Values{"from": {from}, "to": {to}}
	endpoint := fmt.Sprintf("%s/%s?%s", f.baseURL, date.String(), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling rates API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("rates API error (status %d): %s", resp.StatusCode, string(body))
	}

	var data frankfurterResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}

	rate, ok := data.Rates[to]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("%s→%s on %s: %w", from, to, date, ErrRateMissing)
	}
	return rate, nil
}
