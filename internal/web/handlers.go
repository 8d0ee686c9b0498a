package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fieldimport/internal/catalog"
	"fieldimport/internal/importer"
	"fieldimport/internal/logging"
)

// handleCreateSession accepts delimited text (raw body or multipart
// "file" field), parses it, and starts a new import session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	fileName, raw, err := readUploadBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := s.sessions.StartSession(r.Context(), fileName, raw)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	logging.FromContext(r.Context()).Info("session created",
		"session_id", view.ID,
		"file", view.FileName,
		"auto", len(view.Auto),
		"unmatched", len(view.Unmatched),
	)
	writeJSON(w, http.StatusCreated, view)
}

// readUploadBody extracts the upload text from either a multipart
// form or the raw request body.
func readUploadBody(r *http.Request) (fileName, raw string, err error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", "", fmt.Errorf("no file provided: %w", err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return "", "", fmt.Errorf("read upload: %w", err)
		}
		return header.Filename, string(data), nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", "", fmt.Errorf("read upload: %w", err)
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	return name, string(data), nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// mappingRequest is the body for PUT .../mapping. Skip and FieldKey
// are mutually exclusive; skip wins when both are set.
type mappingRequest struct {
	Column   string `json:"column"`
	FieldKey string `json:"field_key"`
	Skip     bool   `json:"skip"`
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, errors.New("column is required"))
		return
	}

	fieldKey := req.FieldKey
	if req.Skip {
		fieldKey = ""
	}

	view, err := s.sessions.SetMapping(chi.URLParam(r, "sessionID"), req.Column, fieldKey)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// createFieldRequest is the body for POST .../fields.
type createFieldRequest struct {
	Column string            `json:"column"`
	Field  catalog.FieldSpec `json:"field"`
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var req createFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	view, err := s.sessions.CreateField(r.Context(), chi.URLParam(r, "sessionID"), req.Column, req.Field)
	if err != nil {
		if catalog.IsDuplicateKey(err) {
			writeDuplicateKey(w, r, s.sessions, err)
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// writeDuplicateKey answers a key conflict with the next free variant
// so the client can retry without a second round trip.
func writeDuplicateKey(w http.ResponseWriter, r *http.Request, sessions *importer.Service, err error) {
	msg := importer.MapError(err)
	resp := struct {
		errorResponse
		SuggestedKey string `json:"suggested_key,omitempty"`
	}{
		errorResponse: errorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code},
	}

	var dup *catalog.DuplicateKeyError
	if errors.As(err, &dup) {
		if key, kerr := sessions.SuggestKey(r.Context(), dup.FieldKey); kerr == nil {
			resp.SuggestedKey = key
		}
	}
	writeJSON(w, http.StatusConflict, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.sessions.Preview(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.sessions.StartImport(r.Context(), sessionID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID, "state": string(importer.StateImporting)})
}

// handleProgress streams progress events over SSE. The event ID is the
// progress percentage, so reconnecting clients can pass lastEventId to
// skip events they have already seen.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	var lastEventID int
	if lastEventIDStr != "" {
		lastEventID, _ = strconv.Atoi(lastEventIDStr)
	}

	events, err := s.sessions.SubscribeProgress(sessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			percent := int(ev.Progress.Percent)
			if lastEventIDStr != "" && ev.State == importer.StateImporting && percent <= lastEventID {
				continue
			}

			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", percent, ev.State, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleResult blocks until the import completes, then returns the
// summary. A dropped connection releases the handler through the
// request context.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	view, err := s.sessions.Session(sessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if view.State != importer.StateImporting && view.State != importer.StateResults {
		writeError(w, http.StatusConflict, fmt.Errorf("invalid state %s for result", view.State))
		return
	}

	summary, err := s.sessions.Result(r.Context(), sessionID)
	if err != nil {
		// Client gone; nothing left to answer.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.sessions.Cancel(sessionID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view, err := s.sessions.Session(sessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRestartMapping(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.RestartMapping(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleListFields returns the full canonical field catalog.
func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.catalog.ListFields(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if fields == nil {
		fields = []catalog.CanonicalField{}
	}
	writeJSON(w, http.StatusOK, fields)
}

// handleSuggestKey returns the next free variant of a proposed key.
func (s *Server) handleSuggestKey(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	if base == "" {
		writeError(w, http.StatusBadRequest, errors.New("base query parameter is required"))
		return
	}

	key, err := s.sessions.SuggestKey(r.Context(), base)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"field_key": key})
}
