package server

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/trip-ledger/internal/receipt"
	"github.com/zombor/trip-ledger/internal/scanning"
)

// maxFormSize bounds an upload (high-resolution phone photos)
const maxFormSize = int64(50 << 20)

// handleListReceipts returns every receipt, newest first
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.svc.Repository.ListReceipts()
	if err != nil {
		writeDomainError(r, w, err, "Error listing receipts")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleCreateReceipts creates receipts either from a JSON draft or from
// uploaded images run through the extractor
func (s *Server) handleCreateReceipts(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		s.handleCreateReceipt(w, r)
		return
	}
	s.handleUploadReceipts(w, r)
}

func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var draft receipt.Draft
	if !decodeBody(w, r, &draft) {
		return
	}
	if draft.Currency == "" {
		writeError(w, http.StatusBadRequest, "Currency is required.")
		return
	}
	draft.Currency = strings.ToUpper(draft.Currency)

	rec, err := s.svc.Repository.AddReceipt(r.Context(), draft, nil)
	if err != nil {
		writeDomainError(r, w, err, "Error creating receipt")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type uploadFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type uploadResponse struct {
	Receipts []receipt.Receipt `json:"receipts"`
	Failed   []uploadFailure   `json:"failed"`
}

// handleUploadReceipts scans each uploaded file and creates the receipts
// that could be read. Files that fail are reported without blocking the rest.
func (s *Server) handleUploadReceipts(w http.ResponseWriter, r *http.Request) {
	if s.svc.Extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "Receipt scanning is not configured.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.ErrorContext(r.Context(), "Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}

	tripID := r.FormValue("tripId")
	if tripID != "" {
		if _, err := s.svc.Repository.GetTrip(tripID); err != nil {
			writeDomainError(r, w, err, "Error loading trip")
			return
		}
	}

	queue := receipt.NewScanQueue(s.svc.Extractor, s.svc.Repository)
	queue.SetCoordinates(coordinates(r))
	for _, header := range files {
		data, err := readFile(header)
		if err != nil {
			slog.ErrorContext(r.Context(), "Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
			return
		}
		queue.Enqueue(header.Filename, contentType(header), data)
	}

	results := queue.Process(r.Context())
	batch, err := queue.Submit(r.Context(), tripID)
	if err != nil {
		writeDomainError(r, w, err, "Error saving receipts")
		return
	}

	resp := uploadResponse{Receipts: batch.Created, Failed: []uploadFailure{}}
	if resp.Receipts == nil {
		resp.Receipts = []receipt.Receipt{}
	}
	var submitted []string
	for _, res := range results {
		switch res.Status {
		case receipt.QueueError:
			resp.Failed = append(resp.Failed, uploadFailure{Name: res.Name, Error: res.Error})
		case receipt.QueueDone:
			submitted = append(submitted, res.Name)
		}
	}
	for _, f := range batch.Failed {
		resp.Failed = append(resp.Failed, uploadFailure{Name: submitted[f.Index], Error: "Failed to save receipt image."})
	}

	status := http.StatusCreated
	if len(resp.Receipts) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// contentType takes the part's declared type, falling back to the extension
func contentType(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			ct = "image/jpeg"
		case ".png":
			ct = "image/png"
		case ".pdf":
			ct = "application/pdf"
		case ".heic":
			ct = "image/heic"
		case ".heif":
			ct = "image/heif"
		default:
			ct = "application/octet-stream"
		}
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// coordinates reads the optional latitude/longitude form fields
func coordinates(r *http.Request) *scanning.Coordinates {
	lat, errLat := strconv.ParseFloat(r.FormValue("latitude"), 64)
	lng, errLng := strconv.ParseFloat(r.FormValue("longitude"), 64)
	if errLat != nil || errLng != nil {
		return nil
	}
	return &scanning.Coordinates{Latitude: lat, Longitude: lng}
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Repository.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeDomainError(r, w, err, "Error loading receipt")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateReceipt replaces the editable fields of a receipt
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var rec receipt.Receipt
	if !decodeBody(w, r, &rec) {
		return
	}
	rec.ID = r.PathValue("id")
	rec.Currency = strings.ToUpper(rec.Currency)

	updated, err := s.svc.Repository.UpdateReceipt(r.Context(), rec)
	if err != nil {
		writeDomainError(r, w, err, "Error updating receipt")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteReceipt deletes a receipt and its image
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Repository.DeleteReceipt(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(r, w, err, "Error deleting receipt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptImage returns the stored image for a receipt
func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.Repository.ReceiptImage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(r, w, err, "Error loading receipt image")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleAssignTrip moves a receipt to a trip, or out of any trip
func (s *Server) handleAssignTrip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TripID string `json:"tripId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.svc.Repository.AssignTrip(r.PathValue("id"), req.TripID)
	if err != nil {
		writeDomainError(r, w, err, "Error assigning trip")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var item receipt.Item
	if !decodeBody(w, r, &item) {
		return
	}
	rec, err := s.svc.Repository.AddItem(r.PathValue("id"), item)
	if err != nil {
		writeDomainError(r, w, err, "Error adding item")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}
	var item receipt.Item
	if !decodeBody(w, r, &item) {
		return
	}
	rec, err := s.svc.Repository.UpdateItem(r.PathValue("id"), index, item)
	if err != nil {
		writeDomainError(r, w, err, "Error updating item")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}
	rec, err := s.svc.Repository.RemoveItem(r.PathValue("id"), index)
	if err != nil {
		writeDomainError(r, w, err, "Error removing item")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func itemIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Item index must be a number.")
		return 0, false
	}
	return index, true
}
