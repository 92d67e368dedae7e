package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"crmgrid/internal/app"
	"crmgrid/internal/ratelimit"
	"crmgrid/internal/util"
	"crmgrid/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	ImportLimiter  *ratelimit.FixedWindowLimiter
	UploadLimiter  *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes the dashboard HTTP API and the embedded UI.
type Server struct {
	app            *app.App
	importLimiter  *ratelimit.FixedWindowLimiter
	uploadLimiter  *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 64 << 20
	}
	s := &Server{
		app:            cfg.App,
		importLimiter:  cfg.ImportLimiter,
		uploadLimiter:  cfg.UploadLimiter,
		trusted:        cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/projects", s.handleProjects)
	s.mux.HandleFunc("/api/projects/", s.handleProjectSub)
	s.mux.HandleFunc("/api/records/", s.handleRecordSub)
	s.mux.HandleFunc("/api/attachments/", s.handleAttachmentByID)
	s.mux.HandleFunc("/uploads/", s.handleUploadFile)
	s.mux.HandleFunc("/", s.handleIndex)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Stats()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type createProjectRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.app.ListProjects()
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": projects,
			"count": len(projects),
		})
	case http.MethodPost:
		var req createProjectRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		p, err := s.app.CreateProject(req.Name, req.Color)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	default:
		methodNotAllowed(w)
	}
}

// /api/projects/{id}, /api/projects/{id}/columns[/{colID}],
// /api/projects/{id}/records, /api/projects/{id}/import,
// /api/projects/{id}/export
func (s *Server) handleProjectSub(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.SplitN(path, "/", 3)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeleteProject(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	switch parts[1] {
	case "columns":
		if len(parts) == 3 {
			s.handleColumnByID(w, r, id, parts[2])
			return
		}
		s.handleColumns(w, r, id)
	case "records":
		if len(parts) == 3 {
			notFound(w, "not found")
			return
		}
		s.handleRecords(w, r, id)
	case "import":
		s.handleImport(w, r, id)
	case "export":
		s.handleExport(w, r, id)
	default:
		notFound(w, "not found")
	}
}

type createColumnRequest struct {
	Name        string `json:"name"`
	ColType     string `json:"colType"`
	InsertAfter string `json:"insertAfter"`
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request, projectID string) {
	switch r.Method {
	case http.MethodGet:
		cols, err := s.app.ListColumns(projectID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": cols,
			"count": len(cols),
		})
	case http.MethodPost:
		var req createColumnRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		col, err := s.app.AddColumn(projectID, req.Name, req.ColType, req.InsertAfter)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, col)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleColumnByID(w http.ResponseWriter, r *http.Request, projectID, columnID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteColumn(projectID, columnID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createRecordRequest struct {
	Data  map[string]string `json:"data"`
	Tags  string            `json:"tags"`
	Notes string            `json:"notes"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request, projectID string) {
	switch r.Method {
	case http.MethodGet:
		recs, err := s.app.ListRecords(projectID, r.URL.Query().Get("q"))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		items := make([]recordResponse, 0, len(recs))
		for _, rec := range recs {
			item, err := s.recordResponse(rec)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	case http.MethodPost:
		var req createRecordRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rec, err := s.app.CreateRecord(projectID, req.Data, req.Tags, req.Notes)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	default:
		methodNotAllowed(w)
	}
}

// /api/records/{id} or /api/records/{id}/attachments
func (s *Server) handleRecordSub(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/records/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "attachments" {
			notFound(w, "not found")
			return
		}
		s.handleUploadAttachment(w, r, id)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, atts, err := s.app.GetRecord(id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newRecordResponse(rec, atts))
	case http.MethodPut:
		s.handleUpdateRecord(w, r, id)
	case http.MethodDelete:
		if err := s.app.DeleteRecord(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type updateRecordRequest struct {
	Data  map[string]string `json:"data"`
	Tags  *string           `json:"tags"`
	Notes *string           `json:"notes"`
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request, id string) {
	var req updateRecordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.app.UpdateRecord(id, domain.RecordPatch{
		Payload: req.Data,
		Tags:    req.Tags,
		Notes:   req.Notes,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request, recordID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.uploadLimiter.Allow(util.ClientIP(r, s.trusted)) {
		writeError(w, http.StatusTooManyRequests, "too many uploads, slow down")
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	att, err := s.app.AddAttachment(r.Context(), recordID, header.Filename, file, header.Size)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttachmentResponse(att))
}

func (s *Server) handleAttachmentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/attachments/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteAttachment(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.importLimiter.Allow(util.ClientIP(r, s.trusted)) {
		writeError(w, http.StatusTooManyRequests, "too many imports, slow down")
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	res, err := s.app.ImportFile(projectID, header.Filename, file)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	blob, err := s.app.ExportTable(projectID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="crm_export.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

// handleUploadFile streams stored attachment bytes. Stored names are system
// generated, so the path segment is usable as-is after a traversal check.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/uploads/")
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		notFound(w, "not found")
		return
	}
	att, rc, err := s.app.OpenBlob(r.Context(), name)
	if err != nil {
		notFound(w, "file not found")
		return
	}
	defer rc.Close()
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", att.OriginalName))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// recordResponse carries attachment metadata alongside the record so the grid
// renders in one request.
type recordResponse struct {
	domain.Record
	Attachments []attachmentResponse `json:"attachments"`
}

type attachmentResponse struct {
	domain.Attachment
	URL         string `json:"url"`
	FileSizeStr string `json:"fileSizeStr"`
	Created     string `json:"created"`
}

func newAttachmentResponse(att domain.Attachment) attachmentResponse {
	return attachmentResponse{
		Attachment:  att,
		URL:         "/uploads/" + att.StoredName,
		FileSizeStr: app.HumanSize(att.SizeBytes),
		Created:     att.CreatedAt.Format("02 Jan 2006"),
	}
}

func newRecordResponse(rec domain.Record, atts []domain.Attachment) recordResponse {
	resp := recordResponse{Record: rec, Attachments: make([]attachmentResponse, 0, len(atts))}
	for _, att := range atts {
		resp.Attachments = append(resp.Attachments, newAttachmentResponse(att))
	}
	return resp
}

func (s *Server) recordResponse(rec domain.Record) (recordResponse, error) {
	atts, err := s.app.Store().ListAttachments(rec.ID)
	if err != nil {
		return recordResponse{}, err
	}
	return newRecordResponse(rec, atts), nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

// writeDomainError translates app-layer failures into HTTP responses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var impErr *domain.ImportError
	switch {
	case errors.As(err, &impErr):
		writeError(w, http.StatusBadRequest, impErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, domain.ErrNoHeaders):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "RESOURCE_NOT_FOUND"
	case http.StatusUnsupportedMediaType:
		return "UPLOAD_UNSUPPORTED_TYPE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
