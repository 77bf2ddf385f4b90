package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// handleCreateRecord inserts the JSON body as a new record. Fields the table
// lacks become new columns; a body id is ignored.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	row, err := decodeRecordBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.service.CreateRecord(r.Context(), chi.URLParam(r, "table"), row)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+idString(rec.ID))
	s.respond(w, r, http.StatusCreated, rec)
}

// handleUpdateRecord merges the JSON body into an existing record. PUT and
// PATCH behave the same: fields not in the body keep their values.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	patch, err := decodeRecordBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.service.UpdateRecord(r.Context(), chi.URLParam(r, "table"), id, patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, rec)
}

// handleDeleteRecord removes one record.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteRecord(r.Context(), chi.URLParam(r, "table"), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
