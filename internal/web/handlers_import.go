package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/JonMunkholm/tabimport/internal/source"
	mw "github.com/JonMunkholm/tabimport/internal/web/middleware"
	"github.com/go-chi/chi/v5"
)

// maxFormMemory is the multipart size kept in memory before spilling to
// temporary files.
const maxFormMemory = 32 << 20

// formOverhead allows for multipart boundaries and the mapping fields on
// top of the file itself.
const formOverhead = 1 << 20

var errBadRequest = errors.New("bad request")

// upload is a decoded multipart import request.
type upload struct {
	entity   string
	fileName string
	table    *core.Table
}

// readUpload checks the entity, then decodes the multipart "file" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	entity := chi.URLParam(r, "entity")
	if _, err := s.service.Schema(entity); err != nil {
		return nil, err
	}

	maxSize := s.cfg.Import.MaxFileSize
	if maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.FileParseError{Err: source.ErrFileTooLarge}
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, errNoFile
		}
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	defer file.Close()

	table, err := source.Decode(header.Filename, file, maxSize)
	if err != nil {
		return nil, err
	}
	return &upload{entity: entity, fileName: header.Filename, table: table}, nil
}

// resolveMappings reads the optional "mapping" (a JSON array of column
// mappings, taken as complete) and "overrides" (a JSON object of column to
// field key, "" to unmap) form fields and resolves the upload's mapping.
func (s *Server) resolveMappings(r *http.Request, u *upload) ([]core.ColumnMapping, error) {
	var explicit []core.ColumnMapping
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &explicit); err != nil {
			return nil, fmt.Errorf("%w: mapping is not a JSON array: %v", core.ErrInvalidOverride, err)
		}
		if explicit == nil {
			explicit = []core.ColumnMapping{}
		}
	}

	var overrides map[string]string
	if raw := r.FormValue("overrides"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			return nil, fmt.Errorf("%w: overrides is not a JSON object: %v", core.ErrInvalidOverride, err)
		}
	}

	return s.service.ResolveMappings(u.entity, u.table, explicit, overrides)
}

// MappingResponse is returned by the mapping endpoint.
type MappingResponse struct {
	Entity          string               `json:"entity"`
	Mode            string               `json:"mode"`
	Headers         []string             `json:"headers"`
	Rows            int                  `json:"rows"`
	Mappings        []core.ColumnMapping `json:"mappings"`
	MissingRequired []string             `json:"missing_required,omitempty"`
}

// handleMapping proposes column mappings for an uploaded file.
// mode=suggest (default) uses the interactive threshold, mode=auto the
// lower bulk threshold.
func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	mode := r.FormValue("mode")
	if mode == "" {
		mode = "suggest"
	}

	var mappings []core.ColumnMapping
	switch mode {
	case "suggest":
		mappings, err = s.service.SuggestMappings(u.entity, u.table)
	case "auto":
		mappings, err = s.service.AutoMap(u.entity, u.table)
	default:
		err = fmt.Errorf("%w: mode must be suggest or auto, got %q", errBadRequest, mode)
	}
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	resp := MappingResponse{
		Entity:   u.entity,
		Mode:     mode,
		Headers:  u.table.Headers,
		Rows:     len(u.table.Rows),
		Mappings: mappings,
	}
	sc, _ := s.service.Schema(u.entity)
	var incomplete *core.MappingIncompleteError
	if errors.As(core.CheckMapping(sc, mappings), &incomplete) {
		resp.MissingRequired = incomplete.Missing
	}
	writeJSON(w, http.StatusOK, resp)
}

// ValidateResponse summarises row validation of an uploaded file.
type ValidateResponse struct {
	Entity   string                     `json:"entity"`
	Total    int                        `json:"total"`
	Valid    int                        `json:"valid"`
	Invalid  int                        `json:"invalid"`
	Mappings []core.ColumnMapping       `json:"mappings"`
	Errors   []*core.RowValidationError `json:"validation_errors"`
	Rows     []core.ParsedRow           `json:"rows,omitempty"`
}

// handleValidate coerces and validates every row. Pass rows=true to get
// the parsed rows back.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	mappings, err := s.resolveMappings(r, u)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	rows, err := s.service.Validate(u.entity, mappings, u.table)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	valid := len(core.ValidSubset(rows))
	resp := ValidateResponse{
		Entity:   u.entity,
		Total:    len(rows),
		Valid:    valid,
		Invalid:  len(rows) - valid,
		Mappings: mappings,
		Errors:   core.RowErrors(rows),
	}
	if resp.Errors == nil {
		resp.Errors = []*core.RowValidationError{}
	}
	if include, _ := strconv.ParseBool(r.FormValue("rows")); include {
		resp.Rows = rows
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePreview analyses an upload against the tenant's existing records
// without writing anything.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	tenant := mw.TenantFromContext(r.Context())
	if tenant == "" {
		s.respondError(w, r, core.ErrTenantRequired, 0)
		return
	}

	u, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	mappings, err := s.resolveMappings(r, u)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	preview, err := s.service.Preview(r.Context(), tenant, u.entity, u.table, mappings)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// ImportStartedResponse is returned when an import session starts.
type ImportStartedResponse struct {
	ImportID    string `json:"import_id"`
	ProgressURL string `json:"progress_url"`
	ResultURL   string `json:"result_url"`
}

// handleImport starts an asynchronous import and returns its id.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	tenant := mw.TenantFromContext(r.Context())
	if tenant == "" {
		s.respondError(w, r, core.ErrTenantRequired, 0)
		return
	}

	u, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	mappings, err := s.resolveMappings(r, u)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	importID, err := s.service.StartImport(r.Context(), tenant, u.entity, u.fileName, u.table, mappings)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Info("import started",
		"import_id", importID,
		"tenant", tenant,
		"entity", u.entity,
		"file", u.fileName,
		"rows", len(u.table.Rows),
	)

	writeJSON(w, http.StatusAccepted, ImportStartedResponse{
		ImportID:    importID,
		ProgressURL: "/api/imports/" + importID + "/progress",
		ResultURL:   "/api/imports/" + importID + "/result",
	})
}

// session looks up the import named in the URL. Sessions belonging to
// another tenant are reported as not found.
func (s *Server) session(r *http.Request) (core.ImportProgress, error) {
	tenant := mw.TenantFromContext(r.Context())
	if tenant == "" {
		return core.ImportProgress{}, core.ErrTenantRequired
	}

	importID := chi.URLParam(r, "importID")
	progress, err := s.service.GetImportProgress(importID)
	if err != nil {
		return core.ImportProgress{}, err
	}
	if progress.Tenant != tenant {
		return core.ImportProgress{}, fmt.Errorf("%w: %s", core.ErrImportNotFound, importID)
	}
	return progress, nil
}

// handleImportProgress streams session progress as server-sent events.
//
// Each "progress" event carries the percentage as its id, so a client that
// reconnects with lastEventId (query) or Last-Event-ID (header) skips what
// it has already seen. A final "complete" event carries the result.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	importID := progress.ImportID

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	progressCh, err := s.service.SubscribeProgress(importID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case p, ok := <-progressCh:
			if !ok {
				s.writeCompleteEvent(w, r, importID)
				flusher.Flush()
				return
			}

			// Terminal updates are always sent, the rest only once per percent
			percent := p.Percent()
			if percent <= lastEventID && !p.Phase.Done() {
				continue
			}
			lastEventID = percent

			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeCompleteEvent(w http.ResponseWriter, r *http.Request, importID string) {
	result, err := s.service.GetImportResult(r.Context(), importID)
	if err != nil || result == nil {
		fmt.Fprint(w, "event: complete\ndata: {}\n\n")
		return
	}
	data, _ := json.Marshal(result)
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
}

// handleImportStatus returns the current progress without blocking.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	progress, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleImportResult returns the final result. While the session is still
// running it answers 202 with the current progress, unless wait=true, in
// which case it blocks until the session ends or the request times out.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	progress, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !progress.Phase.Done() && !wait {
		writeJSON(w, http.StatusAccepted, progress)
		return
	}

	result, err := s.service.GetImportResult(r.Context(), progress.ImportID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancelImport stops a running session. Rows already committed stay
// committed.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	progress, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if err := s.service.CancelImport(progress.ImportID); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"import_id": progress.ImportID,
		"status":    "cancelling",
	})
}
