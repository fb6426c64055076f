package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zombor/trip-ledger/internal/currency"
	"github.com/zombor/trip-ledger/internal/filter"
	"github.com/zombor/trip-ledger/internal/receipt"
)

// noReceiptsAnswer is returned by /api/ask when there is nothing to ask about
const noReceiptsAnswer = "You haven't added any receipts yet. Please add some receipts to start asking questions."

type searchResponse struct {
	Receipts  []receipt.Receipt   `json:"receipts"`
	Groups    []filter.DateGroup  `json:"groups"`
	Summary   filter.Summary      `json:"summary"`
	Filters   []filter.Chip       `json:"filters"`
	Bounds    *filter.DateRange   `json:"bounds,omitempty"`
	Converted *currency.Converted `json:"converted,omitempty"`
}

// handleSearch filters receipts and summarizes the matches. The converted
// total is only present when a home currency is set.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var q filter.Query
	if !decodeBody(w, r, &q) {
		return
	}

	receipts, err := s.svc.Repository.ListReceipts()
	if err != nil {
		writeDomainError(r, w, err, "Error listing receipts")
		return
	}

	matched := filter.Apply(receipts, q)
	resp := searchResponse{
		Receipts: matched,
		Groups:   filter.GroupByDate(matched),
		Summary:  filter.Aggregate(matched),
		Filters:  q.Filters.Active(),
	}
	if resp.Groups == nil {
		resp.Groups = []filter.DateGroup{}
	}
	if resp.Filters == nil {
		resp.Filters = []filter.Chip{}
	}
	if bounds, ok := filter.DateBounds(receipts); ok {
		resp.Bounds = &bounds
	}

	home, err := s.svc.Rates.HomeCurrency()
	if err != nil {
		slog.WarnContext(r.Context(), "Failed to load home currency", "error", err)
	}
	if home != "" && len(matched) > 0 {
		converted, err := s.svc.Rates.ConvertTotal(r.Context(), matched, home)
		if err != nil {
			slog.WarnContext(r.Context(), "Failed to convert totals", "currency", home, "error", err)
		} else {
			resp.Converted = converted
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type rateResponse struct {
	Date string   `json:"date"`
	From string   `json:"from"`
	To   string   `json:"to"`
	Rate *float64 `json:"rate"`
}

// handleGetRate looks up one historical rate. A missing rate is not an
// error: rate is null.
func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	date, err := receipt.ParseDate(query.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	from, to := query.Get("from"), query.Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	resp := rateResponse{Date: date.String(), From: from, To: to}
	if rate, ok := s.svc.Rates.GetRate(r.Context(), date, from, to); ok {
		resp.Rate = &rate
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, receipt.SupportedCurrencies)
}

type homeCurrency struct {
	Currency string `json:"currency"`
}

func (s *Server) handleGetHomeCurrency(w http.ResponseWriter, r *http.Request) {
	code, err := s.svc.Rates.HomeCurrency()
	if err != nil {
		writeDomainError(r, w, err, "Error loading home currency")
		return
	}
	writeJSON(w, http.StatusOK, homeCurrency{Currency: code})
}

func (s *Server) handleSetHomeCurrency(w http.ResponseWriter, r *http.Request) {
	var req homeCurrency
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.Rates.SetHomeCurrency(req.Currency); err != nil {
		if errors.Is(err, currency.ErrUnsupportedCurrency) {
			writeError(w, http.StatusBadRequest, "Unsupported currency.")
			return
		}
		writeDomainError(r, w, err, "Error saving home currency")
		return
	}
	s.handleGetHomeCurrency(w, r)
}

// handleAsk answers a free-form question about the receipts, optionally
// limited to one trip
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.svc.Answerer == nil {
		writeError(w, http.StatusServiceUnavailable, "Questions are not configured.")
		return
	}

	var req struct {
		Question string `json:"question"`
		TripID   string `json:"tripId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "Question is required.")
		return
	}

	receipts, err := s.svc.Repository.ListReceipts()
	if err != nil {
		writeDomainError(r, w, err, "Error listing receipts")
		return
	}
	receipts = filter.Apply(receipts, filter.Query{TripID: req.TripID})
	if len(receipts) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"answer": noReceiptsAnswer})
		return
	}

	data, err := json.Marshal(receipts)
	if err != nil {
		writeDomainError(r, w, err, "Error encoding receipts")
		return
	}
	answer, err := s.svc.Answerer.Ask(r.Context(), data, req.Question)
	if err != nil {
		slog.ErrorContext(r.Context(), "Error answering question", "error", err)
		writeError(w, http.StatusBadGateway, "Sorry, I couldn't answer that right now.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}
