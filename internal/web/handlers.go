package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleHealth reports whether the store is reachable and how many ingests are running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, capacity := s.service.IngestStatus()
	status := map[string]any{
		"status":  "ok",
		"ingests": map[string]int{"active": active, "capacity": capacity},
	}
	if err := s.service.Ping(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, status)
}

// handleListTables lists every table name.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.ListTables(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if tables == nil {
		tables = []string{}
	}
	s.respond(w, r, http.StatusOK, tables)
}

// handleGetTable returns a table's schema with its first records as samples.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	schema, err := s.service.GetTableSchema(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, schema)
}

// handleDropTable removes a table with all its records.
func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if err := s.service.DropTable(r.Context(), table); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]any{"table": table, "dropped": true})
}
