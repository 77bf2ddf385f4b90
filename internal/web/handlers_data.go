package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// handleListRecords returns a page of records. limit and offset page the
// result; every other query parameter is an equality filter.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	res, page, err := s.service.ListRecords(r.Context(), chi.URLParam(r, "table"), r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	records := res.Records
	if records == nil {
		records = []core.Record{}
	}
	s.respondEnvelope(w, r, http.StatusOK, Envelope{
		Success: true,
		Data:    records,
		Pagination: &Pagination{
			Limit:  page.Limit,
			Offset: page.Offset,
			Total:  res.Total,
		},
	})
}

// handleGetRecord returns one record by id.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.service.GetRecord(r.Context(), chi.URLParam(r, "table"), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, rec)
}
