package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/logging"
)

// maxRecordBody bounds JSON record payloads.
const maxRecordBody = 1 << 20

// Envelope wraps every successful response.
type Envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes the page a list response holds.
type Pagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// respond writes data in the success envelope.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	s.respondEnvelope(w, r, status, Envelope{Success: true, Data: data})
}

func (s *Server) respondEnvelope(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	s.encode(w, r, env)
}

// encode writes v as JSON. Headers are already sent, so a failure can only be logged.
func (s *Server) encode(w http.ResponseWriter, r *http.Request, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}

// recordID parses the {id} path parameter.
func recordID(r *http.Request) (int64, error) {
	return core.ParseRecordID(chi.URLParam(r, "id"))
}

// decodeRecordBody reads a flat JSON object from the request body.
func decodeRecordBody(w http.ResponseWriter, r *http.Request) (core.Row, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request body exceeds %d bytes: %w", core.ErrTooLarge, maxRecordBody, err)
		}
		return nil, core.ErrValidation("invalid JSON body: %v", err)
	}
	return core.DecodeRow(bytes.NewReader(body))
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }
