package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/zombor/trip-ledger/internal/filter"
	"github.com/zombor/trip-ledger/internal/receipt"
	"github.com/zombor/trip-ledger/internal/snapshot"
)

// maxImportSize bounds an uploaded snapshot, images included
const maxImportSize = int64(512 << 20)

// handleExport downloads the full snapshot
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Snapshots.Export(r.Context())
	if err != nil {
		writeDomainError(r, w, err, "Error exporting snapshot")
		return
	}
	filename := fmt.Sprintf("trip-ledger-export-%s.json", snap.ExportedAt.Format(receipt.DateLayout))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	writeJSON(w, http.StatusOK, snap)
}

// handleImport replaces all data with an uploaded snapshot
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportSize)
	res, err := s.svc.Snapshots.Import(r.Context(), body)
	if errors.Is(err, snapshot.ErrMalformed) {
		writeError(w, http.StatusBadRequest, "Invalid backup file.")
		return
	}
	if err != nil {
		writeDomainError(r, w, err, "Error importing snapshot")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExportCSV downloads receipts as CSV, optionally for one trip or day
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	q := filter.Query{TripID: r.URL.Query().Get("tripId")}
	name := "receipts"
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, err := receipt.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		q.Filters.DateRange = filter.DateRange{Start: &date, End: &date}
		name = "receipts_" + date.String()
	}

	receipts, err := s.svc.Repository.ListReceipts()
	if err != nil {
		writeDomainError(r, w, err, "Error listing receipts")
		return
	}

	var buf bytes.Buffer
	err = snapshot.ExportCSV(&buf, filter.Apply(receipts, q))
	if errors.Is(err, snapshot.ErrNoReceipts) {
		writeError(w, http.StatusNotFound, "No receipts to export.")
		return
	}
	if err != nil {
		writeDomainError(r, w, err, "Error exporting CSV")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, name))
	w.Write(buf.Bytes())
}
