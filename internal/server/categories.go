package server

import (
	"net/http"
)

type categoriesResponse struct {
	Categories []string `json:"categories"`
	Custom     []string `json:"custom"`
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	s.writeCategories(w, r, http.StatusOK)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.Repository.AddCategory(req.Name); err != nil {
		writeDomainError(r, w, err, "Error creating category")
		return
	}
	s.writeCategories(w, r, http.StatusCreated)
}

// handleRenameCategory renames a custom category and every item using it
func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.Repository.RenameCategory(r.PathValue("name"), req.Name); err != nil {
		writeDomainError(r, w, err, "Error renaming category")
		return
	}
	s.writeCategories(w, r, http.StatusOK)
}

// handleDeleteCategory removes a custom category; its items become Other
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Repository.DeleteCategory(r.PathValue("name")); err != nil {
		writeDomainError(r, w, err, "Error deleting category")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeCategories answers with the merged and custom category lists
func (s *Server) writeCategories(w http.ResponseWriter, r *http.Request, status int) {
	all, err := s.svc.Repository.Categories()
	if err != nil {
		writeDomainError(r, w, err, "Error listing categories")
		return
	}
	custom, err := s.svc.Repository.CustomCategories()
	if err != nil {
		writeDomainError(r, w, err, "Error listing categories")
		return
	}
	writeJSON(w, status, categoriesResponse{Categories: all, Custom: custom})
}
