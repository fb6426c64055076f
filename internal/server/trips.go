package server

import (
	"net/http"

	"github.com/zombor/trip-ledger/internal/receipt"
)

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.svc.Repository.ListTrips()
	if err != nil {
		writeDomainError(r, w, err, "Error listing trips")
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req receipt.Trip
	if !decodeBody(w, r, &req) {
		return
	}
	trip, err := s.svc.Repository.AddTrip(req.Name, req.StartDate, req.EndDate)
	if err != nil {
		writeDomainError(r, w, err, "Error creating trip")
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.svc.Repository.GetTrip(r.PathValue("id"))
	if err != nil {
		writeDomainError(r, w, err, "Error loading trip")
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	var trip receipt.Trip
	if !decodeBody(w, r, &trip) {
		return
	}
	trip.ID = r.PathValue("id")
	updated, err := s.svc.Repository.UpdateTrip(trip)
	if err != nil {
		writeDomainError(r, w, err, "Error updating trip")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteTrip removes a trip; its receipts are kept without a trip
func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Repository.DeleteTrip(r.PathValue("id")); err != nil {
		writeDomainError(r, w, err, "Error deleting trip")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTripReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.svc.Repository.ReceiptsForTrip(r.PathValue("id"))
	if err != nil {
		writeDomainError(r, w, err, "Error listing trip receipts")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}
